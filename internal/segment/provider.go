// Package segment turns collected events into Segment HTTP Tracking API
// requests. Every function here is a pure transformation: nothing is sent,
// cached or logged, so a Provider is safe for concurrent use.
package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shortontech/gosegment/internal/event"
)

const DefaultEndpoint = "https://api.segment.io"

// Provider builds requests for the three supported event kinds.
type Provider struct {
	trackURL    string
	identifyURL string
}

type Option func(*Provider)

// WithEndpoint points the provider at another API base URL, e.g. a regional
// Segment host or a test server.
func WithEndpoint(base string) Option {
	return func(p *Provider) {
		base = strings.TrimRight(base, "/")
		p.trackURL = base + "/v1/track"
		p.identifyURL = base + "/v1/identify"
	}
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{}
	WithEndpoint(DefaultEndpoint)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build routes ev to Page, Track or Identify according to the data it carries.
func (p *Provider) Build(ev event.Event, creds event.Dict) (*Request, error) {
	switch ev.Kind() {
	case event.KindPage:
		return p.Page(ev, creds)
	case event.KindTrack:
		return p.Track(ev, creds)
	case event.KindUser:
		return p.Identify(ev, creds)
	}
	if _, err := NewCredentials(creds); err != nil {
		return nil, err
	}
	return nil, invalid(ReasonMissingEventData, fmt.Sprintf("Unsupported event type %q", ev.Kind()))
}

// Page builds a "page" call. title, url and path are always echoed into
// properties; referrer, search and keywords only when set.
func (p *Provider) Page(ev event.Event, creds event.Dict) (*Request, error) {
	c, err := NewCredentials(creds)
	if err != nil {
		return nil, err
	}
	data, ok := ev.Page()
	if !ok {
		return nil, invalid(ReasonMissingEventData, "Missing page data")
	}

	payload := newPayload(ev, c, TypePage)
	payload.Context.mergePage(data)
	payload.Name = optional(data.Name)
	payload.Category = optional(data.Category)

	props := map[string]any{
		"title": data.Title,
		"url":   data.URL,
		"path":  data.Path,
	}
	if data.Referrer != "" {
		props["referrer"] = data.Referrer
	}
	if data.Search != "" {
		props["search"] = data.Search
	}
	if len(data.Keywords) > 0 {
		props["keywords"] = append([]string(nil), data.Keywords...)
	}
	for _, e := range data.Properties {
		props[e.Key] = CoerceValue(e.Value)
	}
	payload.Properties = props

	return buildRequest(p.trackURL, payload, c)
}

// Track builds a "track" call; the event name is required.
func (p *Provider) Track(ev event.Event, creds event.Dict) (*Request, error) {
	c, err := NewCredentials(creds)
	if err != nil {
		return nil, err
	}
	data, ok := ev.Track()
	if !ok {
		return nil, invalid(ReasonMissingEventData, "Missing track data")
	}
	if data.Name == "" {
		return nil, invalid(ReasonMissingRequiredField, "Track is not set")
	}

	payload := newPayload(ev, c, TypeTrack)
	payload.Event = optional(data.Name)
	payload.Properties = coerceDict(data.Properties)

	return buildRequest(p.trackURL, payload, c)
}

// Identify builds an "identify" call from a user event. At least one of the
// user's ids is required; the ids on the data take precedence over the ones
// in the ambient context.
func (p *Provider) Identify(ev event.Event, creds event.Dict) (*Request, error) {
	c, err := NewCredentials(creds)
	if err != nil {
		return nil, err
	}
	data, ok := ev.User()
	if !ok {
		return nil, invalid(ReasonMissingEventData, "Missing user data")
	}
	if data.UserID == "" && data.AnonymousID == "" {
		return nil, invalid(ReasonMissingRequiredField, "user_id or anonymous_id is not set")
	}

	payload := newPayload(ev, c, TypeIdentify)
	if data.UserID != "" {
		payload.UserID = optional(data.UserID)
	}
	if data.AnonymousID != "" {
		payload.AnonymousID = optional(data.AnonymousID)
	}
	payload.Traits = coerceDict(data.Properties)

	return buildRequest(p.identifyURL, payload, c)
}

// newPayload fills what all kinds share. anonymousId falls back to the
// platform-generated id when the visitor has no explicit anonymous id.
func newPayload(ev event.Event, c Credentials, typ string) *Payload {
	user := ev.Context.User
	return &Payload{
		ProjectID:   c.ProjectID(),
		Timestamp:   time.UnixMicro(ev.TimestampMicros).UTC(),
		Type:        typ,
		Context:     BuildContext(ev.Context),
		UserID:      optional(user.UserID),
		AnonymousID: optional(or(user.AnonymousID, user.EdgeeID)),
	}
}
