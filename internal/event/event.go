package event

import (
	"encoding/json"
	"fmt"
)

// Kind names the variant carried in Event.Data.
type Kind string

const (
	KindPage  Kind = "page"
	KindTrack Kind = "track"
	KindUser  Kind = "user"
)

// Consent is the visitor's consent state as reported by the collector.
type Consent string

const (
	ConsentPending Consent = "pending"
	ConsentGranted Consent = "granted"
	ConsentDenied  Consent = "denied"
)

// High-level envelope. Data holds exactly one of PageData, TrackData or UserData
// and is encoded under "data", discriminated by "type".
type Event struct {
	UUID            string   `json:"uuid,omitempty"`
	Timestamp       int64    `json:"timestamp,omitempty"`        // seconds
	TimestampMillis int64    `json:"timestamp_millis,omitempty"` // milliseconds
	TimestampMicros int64    `json:"timestamp_micros,omitempty"` // microseconds
	Type            Kind     `json:"type,omitempty"`
	Data            Data     `json:"-"`
	Context         Context  `json:"context"`
	Consent         *Consent `json:"consent,omitempty"`
}

// Data is the kind-specific part of an Event.
type Data interface {
	Kind() Kind
	isData()
}

// --- Kind-specific data ---

type PageData struct {
	Name       string   `json:"name,omitempty"`
	Category   string   `json:"category,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Title      string   `json:"title,omitempty"`
	URL        string   `json:"url,omitempty"`
	Path       string   `json:"path,omitempty"`
	Search     string   `json:"search,omitempty"`
	Referrer   string   `json:"referrer,omitempty"`
	Properties Dict     `json:"properties,omitempty"`
}

type TrackData struct {
	Name       string `json:"name,omitempty"`
	Properties Dict   `json:"properties,omitempty"`
}

type UserData struct {
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
	EdgeeID     string `json:"edgee_id,omitempty"` // platform-generated visitor id
	Properties  Dict   `json:"properties,omitempty"`
}

func (PageData) Kind() Kind  { return KindPage }
func (TrackData) Kind() Kind { return KindTrack }
func (UserData) Kind() Kind  { return KindUser }

func (PageData) isData()  {}
func (TrackData) isData() {}
func (UserData) isData()  {}

// --- Ambient context ---

type Context struct {
	Page     PageData `json:"page"`
	User     UserData `json:"user"`
	Client   Client   `json:"client"`
	Campaign Campaign `json:"campaign"`
	Session  Session  `json:"session"`
}

type Client struct {
	City                     string  `json:"city,omitempty"`
	IP                       string  `json:"ip,omitempty"`
	Locale                   string  `json:"locale,omitempty"`
	Timezone                 string  `json:"timezone,omitempty"`
	UserAgent                string  `json:"user_agent,omitempty"`
	UserAgentArchitecture    string  `json:"user_agent_architecture,omitempty"`
	UserAgentBitness         string  `json:"user_agent_bitness,omitempty"`
	UserAgentFullVersionList string  `json:"user_agent_full_version_list,omitempty"`
	UserAgentVersionList     string  `json:"user_agent_version_list,omitempty"`
	UserAgentMobile          string  `json:"user_agent_mobile,omitempty"`
	UserAgentModel           string  `json:"user_agent_model,omitempty"`
	OSName                   string  `json:"os_name,omitempty"`
	OSVersion                string  `json:"os_version,omitempty"`
	ScreenWidth              int     `json:"screen_width,omitempty"`
	ScreenHeight             int     `json:"screen_height,omitempty"`
	ScreenDensity            float64 `json:"screen_density,omitempty"` // device pixel ratio
	Continent                string  `json:"continent,omitempty"`
	CountryCode              string  `json:"country_code,omitempty"`
	CountryName              string  `json:"country_name,omitempty"`
	Region                   string  `json:"region,omitempty"`
}

// Campaign carries the utm_* attribution of the visit.
type Campaign struct {
	Name            string `json:"name,omitempty"`
	Source          string `json:"source,omitempty"`
	Medium          string `json:"medium,omitempty"`
	Term            string `json:"term,omitempty"`
	Content         string `json:"content,omitempty"`
	CreativeFormat  string `json:"creative_format,omitempty"`
	MarketingTactic string `json:"marketing_tactic,omitempty"`
}

type Session struct {
	SessionID         string `json:"session_id,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	SessionCount      int    `json:"session_count,omitempty"`
	SessionStart      bool   `json:"session_start,omitempty"`
	FirstSeen         int64  `json:"first_seen,omitempty"`
	LastSeen          int64  `json:"last_seen,omitempty"`
}

// Kind reports the variant of e.Data, falling back to the declared Type when
// no data is attached.
func (e Event) Kind() Kind {
	if e.Data != nil {
		return e.Data.Kind()
	}
	return e.Type
}

// Page returns the page data of e, if that is what it carries.
func (e Event) Page() (PageData, bool) {
	switch d := e.Data.(type) {
	case PageData:
		return d, true
	case *PageData:
		if d != nil {
			return *d, true
		}
	}
	return PageData{}, false
}

// Track returns the track data of e, if that is what it carries.
func (e Event) Track() (TrackData, bool) {
	switch d := e.Data.(type) {
	case TrackData:
		return d, true
	case *TrackData:
		if d != nil {
			return *d, true
		}
	}
	return TrackData{}, false
}

// User returns the user data of e, if that is what it carries.
func (e Event) User() (UserData, bool) {
	switch d := e.Data.(type) {
	case UserData:
		return d, true
	case *UserData:
		if d != nil {
			return *d, true
		}
	}
	return UserData{}, false
}

// Denied reports whether the visitor explicitly refused consent.
func (e Event) Denied() bool {
	return e.Consent != nil && *e.Consent == ConsentDenied
}

func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Data Data `json:"data,omitempty"`
	}{alias(e), e.Data})
}

// UnmarshalJSON decodes "data" according to "type". A Type already set on e is
// kept when the document does not carry one.
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	aux := struct {
		*alias
		Data json.RawMessage `json:"data,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.Data = nil
	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		return nil
	}

	var (
		data Data
		err  error
	)
	switch e.Type {
	case KindPage:
		var d PageData
		err = json.Unmarshal(aux.Data, &d)
		data = d
	case KindTrack:
		var d TrackData
		err = json.Unmarshal(aux.Data, &d)
		data = d
	case KindUser:
		var d UserData
		err = json.Unmarshal(aux.Data, &d)
		data = d
	default:
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	if err != nil {
		return fmt.Errorf("event: decode %s data: %w", e.Type, err)
	}
	e.Data = data
	return nil
}
