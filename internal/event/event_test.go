package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEvent_UnmarshalJSON(t *testing.T) {
	t.Run("decodes page data by type", func(t *testing.T) {
		raw := `{"uuid":"u1","timestamp_micros":123,"type":"page",
			"data":{"title":"Home","url":"https://example.com/","path":"/","keywords":["a","b"],
				"properties":{"currency":"USD","amount":9.99,"vip":true,"skip":null}},
			"context":{"client":{"ip":"1.2.3.4","screen_width":1024,"screen_density":2}},
			"consent":"granted"}`
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		page, ok := e.Page()
		if !ok {
			t.Fatalf("Data = %#v, want PageData", e.Data)
		}
		if page.Title != "Home" || page.Path != "/" || len(page.Keywords) != 2 {
			t.Errorf("page = %+v", page)
		}
		if v, _ := page.Properties.Get("amount"); v != "9.99" {
			t.Errorf("amount = %q, want literal 9.99", v)
		}
		if v, _ := page.Properties.Get("vip"); v != "true" {
			t.Errorf("vip = %q", v)
		}
		if page.Properties.Has("skip") {
			t.Error("null property should be dropped")
		}
		if e.Context.Client.IP != "1.2.3.4" || e.Context.Client.ScreenWidth != 1024 {
			t.Errorf("client = %+v", e.Context.Client)
		}
		if e.Consent == nil || *e.Consent != ConsentGranted {
			t.Errorf("consent = %v", e.Consent)
		}
		if e.TimestampMicros != 123 {
			t.Errorf("timestamp_micros = %d", e.TimestampMicros)
		}
	})

	t.Run("decodes track and user data", func(t *testing.T) {
		var tr Event
		if err := json.Unmarshal([]byte(`{"type":"track","data":{"name":"purchase"}}`), &tr); err != nil {
			t.Fatalf("unmarshal track: %v", err)
		}
		if d, ok := tr.Track(); !ok || d.Name != "purchase" {
			t.Errorf("track = %#v", tr.Data)
		}

		var us Event
		if err := json.Unmarshal([]byte(`{"type":"user","data":{"user_id":"123","properties":[["plan","pro"]]}}`), &us); err != nil {
			t.Fatalf("unmarshal user: %v", err)
		}
		d, ok := us.User()
		if !ok || d.UserID != "123" {
			t.Fatalf("user = %#v", us.Data)
		}
		if v, _ := d.Properties.Get("plan"); v != "pro" {
			t.Errorf("plan = %q", v)
		}
	})

	t.Run("keeps a preset type when the document has none", func(t *testing.T) {
		e := Event{Type: KindTrack}
		if err := json.Unmarshal([]byte(`{"data":{"name":"signup"}}`), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, ok := e.Track(); !ok {
			t.Errorf("Data = %#v, want TrackData", e.Data)
		}
	})

	t.Run("no data is allowed", func(t *testing.T) {
		var e Event
		if err := json.Unmarshal([]byte(`{"type":"page"}`), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if e.Data != nil {
			t.Errorf("Data = %#v, want nil", e.Data)
		}
		if e.Kind() != KindPage {
			t.Errorf("Kind() = %q", e.Kind())
		}
	})

	t.Run("rejects data of unknown type", func(t *testing.T) {
		var e Event
		err := json.Unmarshal([]byte(`{"type":"screen","data":{}}`), &e)
		if err == nil || !strings.Contains(err.Error(), "unknown type") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("rejects malformed data", func(t *testing.T) {
		var e Event
		if err := json.Unmarshal([]byte(`{"type":"page","data":{"title":5}}`), &e); err == nil {
			t.Error("expected error")
		}
	})
}

func TestEvent_MarshalJSON(t *testing.T) {
	denied := ConsentDenied
	e := Event{
		UUID:    "u1",
		Type:    KindTrack,
		Data:    TrackData{Name: "purchase", Properties: Dict{{Key: "a", Value: "1"}}},
		Consent: &denied,
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"data":{"name":"purchase","properties":[["a","1"]]}`) {
		t.Errorf("json = %s", s)
	}

	var back Event
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d, ok := back.Track(); !ok || d.Name != "purchase" {
		t.Errorf("data = %#v", back.Data)
	}
	if !back.Denied() {
		t.Error("Denied() = false, want true")
	}
}

func TestEvent_Accessors(t *testing.T) {
	t.Run("pointer data", func(t *testing.T) {
		d := &UserData{UserID: "x"}
		e := Event{Data: d}
		if got, ok := e.User(); !ok || got.UserID != "x" {
			t.Errorf("User() = %+v, %v", got, ok)
		}
		if _, ok := e.Page(); ok {
			t.Error("Page() should be false for user data")
		}
	})

	t.Run("nil pointer data", func(t *testing.T) {
		var d *PageData
		e := Event{Data: d}
		if _, ok := e.Page(); ok {
			t.Error("Page() should be false for a nil pointer")
		}
	})

	t.Run("kind prefers data over declared type", func(t *testing.T) {
		e := Event{Type: KindPage, Data: TrackData{}}
		if e.Kind() != KindTrack {
			t.Errorf("Kind() = %q", e.Kind())
		}
	})

	t.Run("consent", func(t *testing.T) {
		granted := ConsentGranted
		if (Event{Consent: &granted}).Denied() {
			t.Error("granted should not be denied")
		}
		if (Event{}).Denied() {
			t.Error("missing consent should not be denied")
		}
	})
}
