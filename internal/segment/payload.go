package segment

import "time"

// Payload is the document posted to the Segment tracking API.
//
// Optional scalars and nested objects are pointers: nil means the key is left
// out, never written as null. Properties and Traits use omitzero so an unset
// map is dropped while an empty one is still sent as {}.
type Payload struct {
	ProjectID   string         `json:"projectId"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Context     Context        `json:"context"`
	UserID      *string        `json:"userId,omitempty"`
	AnonymousID *string        `json:"anonymousId,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Event       *string        `json:"event,omitempty"`
	Properties  map[string]any `json:"properties,omitzero"`
	Traits      map[string]any `json:"traits,omitzero"`
}

// Payload types.
const (
	TypePage     = "page"
	TypeTrack    = "track"
	TypeIdentify = "identify"
)

type Context struct {
	Campaign  *Campaign    `json:"campaign,omitempty"`
	IP        *string      `json:"ip,omitempty"`
	Locale    *string      `json:"locale,omitempty"`
	OS        *OS          `json:"os,omitempty"`
	Page      *PageContext `json:"page,omitempty"`
	Screen    *Screen      `json:"screen,omitempty"`
	Timezone  *string      `json:"timezone,omitempty"`
	UserAgent *string      `json:"userAgent,omitempty"`
}

type Campaign struct {
	Name    *string `json:"name,omitempty"`
	Source  *string `json:"source,omitempty"`
	Medium  *string `json:"medium,omitempty"`
	Term    *string `json:"term,omitempty"`
	Content *string `json:"content,omitempty"`
}

type OS struct {
	Name    *string `json:"name,omitempty"`
	Version *string `json:"version,omitempty"`
}

type PageContext struct {
	Path     *string `json:"path,omitempty"`
	Referrer *string `json:"referrer,omitempty"`
	Search   *string `json:"search,omitempty"`
	Title    *string `json:"title,omitempty"`
	URL      *string `json:"url,omitempty"`
}

type Screen struct {
	Width   *int     `json:"width,omitempty"`
	Height  *int     `json:"height,omitempty"`
	Density *float64 `json:"density,omitempty"`
}

func (c *Campaign) empty() bool {
	return c.Name == nil && c.Source == nil && c.Medium == nil && c.Term == nil && c.Content == nil
}

func (o *OS) empty() bool { return o.Name == nil && o.Version == nil }

func (p *PageContext) empty() bool {
	return p.Path == nil && p.Referrer == nil && p.Search == nil && p.Title == nil && p.URL == nil
}

func (s *Screen) empty() bool { return s.Width == nil && s.Height == nil && s.Density == nil }

// optional maps "" to an absent value.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// or returns s, or def when s is empty.
func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
