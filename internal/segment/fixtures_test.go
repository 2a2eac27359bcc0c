package segment

import (
	"encoding/json"
	"testing"

	"github.com/shortontech/gosegment/internal/event"
)

func sampleCredentials() event.Dict {
	return event.Dict{
		{Key: KeyProjectID, Value: "project-123"},
		{Key: KeyWriteKey, Value: "key"},
	}
}

func samplePageData() event.PageData {
	return event.PageData{
		Name:     "page name",
		Category: "category",
		Keywords: []string{"value1", "value2"},
		Title:    "page title",
		URL:      "https://example.com/full-url?test=1",
		Path:     "/full-path",
		Search:   "?test=1",
		Referrer: "https://example.com/another-page",
		Properties: event.Dict{
			{Key: "prop1", Value: "false"},
			{Key: "prop2", Value: "true"},
			{Key: "currency", Value: "USD"},
		},
	}
}

func sampleUserData() event.UserData {
	return event.UserData{
		UserID:      "123",
		AnonymousID: "456",
		EdgeeID:     "edgee-abc",
		Properties: event.Dict{
			{Key: "prop1", Value: "value1"},
			{Key: "prop2", Value: "10"},
		},
	}
}

func sampleCampaign() event.Campaign {
	return event.Campaign{
		Name:            "random",
		Source:          "random",
		Medium:          "random",
		Term:            "random",
		Content:         "random",
		CreativeFormat:  "random",
		MarketingTactic: "random",
	}
}

func sampleClient() event.Client {
	return event.Client{
		City:          "Paris",
		IP:            "192.168.0.1",
		Locale:        "fr-FR",
		Timezone:      "CET",
		UserAgent:     "Chrome",
		OSName:        "MacOS",
		OSVersion:     "latest",
		ScreenWidth:   1024,
		ScreenHeight:  768,
		ScreenDensity: 2.0,
		Continent:     "Europe",
		CountryCode:   "FR",
		CountryName:   "France",
		Region:        "West Europe",
	}
}

func sampleContext() event.Context {
	return event.Context{
		Page:     samplePageData(),
		User:     sampleUserData(),
		Client:   sampleClient(),
		Campaign: sampleCampaign(),
		Session: event.Session{
			SessionID:    "random",
			SessionCount: 2,
			SessionStart: true,
			FirstSeen:    123,
			LastSeen:     123,
		},
	}
}

func sampleEvent(data event.Data) event.Event {
	return event.Event{
		UUID:            "0d6a0c9e-7f55-4b44-9a52-1b1f3f1f2a11",
		Timestamp:       123,
		TimestampMillis: 123,
		TimestampMicros: 123,
		Type:            data.Kind(),
		Data:            data,
		Context:         sampleContext(),
	}
}

// decodeBody unmarshals the request body into a generic map.
func decodeBody(t *testing.T, req *Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v\n%s", err, req.Body)
	}
	return body
}

func asObject(t *testing.T, v any, field string) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("%s = %#v, want object", field, v)
	}
	return m
}
