package main

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/gosegment/internal/event"
	"github.com/shortontech/gosegment/internal/segment"
	"github.com/shortontech/gosegment/pkg/config"
)

// testEventDelay spaces sample events so they are easy to follow in logs.
var testEventDelay = 200 * time.Millisecond

// generateTestEvents creates one sample event per kind, plus one the visitor
// refused consent for.
func generateTestEvents() []event.Event {
	now := time.Now()
	anonymousID := "anon-" + uuid.New().String()[:8]

	client := event.Client{
		IP:            "203.0.113.42",
		Locale:        "en-US",
		Timezone:      "America/Los_Angeles",
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		OSName:        "Windows",
		OSVersion:     "10",
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		ScreenDensity: 1,
		City:          "San Francisco",
		CountryCode:   "US",
	}
	page := event.PageData{
		Title:    "Home Page",
		URL:      "https://example.com/home?utm_source=google",
		Path:     "/home",
		Search:   "?utm_source=google",
		Referrer: "https://google.com",
	}
	ctx := event.Context{
		Page:   page,
		User:   event.UserData{AnonymousID: anonymousID},
		Client: client,
		Campaign: event.Campaign{
			Name:   "search",
			Source: "google",
			Medium: "organic",
		},
		Session: event.Session{
			SessionID:    "session-" + uuid.New().String()[:8],
			SessionCount: 1,
			SessionStart: true,
		},
	}

	at := func(offset time.Duration) (int64, int64, int64) {
		ts := now.Add(offset)
		return ts.Unix(), ts.UnixMilli(), ts.UnixMicro()
	}

	var events []event.Event
	add := func(offset time.Duration, data event.Data, consent *event.Consent) {
		ev := event.Event{
			UUID:    uuid.New().String(),
			Type:    data.Kind(),
			Data:    data,
			Context: ctx,
			Consent: consent,
		}
		ev.Timestamp, ev.TimestampMillis, ev.TimestampMicros = at(offset)
		events = append(events, ev)
	}

	add(0, page, consentPtr(event.ConsentGranted))
	add(time.Second, event.TrackData{
		Name: "Signup Clicked",
		Properties: event.Dict{
			{Key: "plan", Value: "pro"},
			{Key: "seats", Value: "5"},
			{Key: "trial", Value: "true"},
		},
	}, consentPtr(event.ConsentGranted))
	add(2*time.Second, event.UserData{
		UserID:      "user-" + uuid.New().String()[:8],
		AnonymousID: anonymousID,
		Properties: event.Dict{
			{Key: "email", Value: "test@example.com"},
			{Key: "plan", Value: "pro"},
		},
	}, nil)
	add(3*time.Second, event.TrackData{Name: "Ad Viewed"}, consentPtr(event.ConsentDenied))

	return events
}

// testCredentials falls back to placeholders so test mode works without a
// Segment account. Requests built with them are rejected by Segment.
func testCredentials(cfg config.Config) event.Dict {
	creds := cfg.Credentials()
	if _, ok := creds[segment.KeyProjectID]; !ok {
		log.Println("TEST MODE: SEGMENT_PROJECT_ID not set, using placeholder")
		creds[segment.KeyProjectID] = "test-project"
	}
	if _, ok := creds[segment.KeyWriteKey]; !ok {
		log.Println("TEST MODE: SEGMENT_WRITE_KEY not set, using placeholder")
		creds[segment.KeyWriteKey] = "test-write-key"
	}
	return event.DictFromMap(creds)
}

// runTestMode builds the sample events and emits them. It returns how many
// requests were emitted.
func runTestMode(build func(event.Event) (*segment.Request, error), emit func(event.Event, *segment.Request)) int {
	log.Println("TEST MODE: generating sample events...")

	events := generateTestEvents()
	sent := 0
	for i, ev := range events {
		if ev.Denied() {
			log.Printf("TEST MODE: event %d/%d: %s (%s) skipped, consent denied", i+1, len(events), ev.Kind(), ev.UUID)
			continue
		}
		req, err := build(ev)
		if err != nil {
			log.Printf("TEST MODE: event %d/%d: %s (%s) rejected: %v", i+1, len(events), ev.Kind(), ev.UUID, err)
			continue
		}
		log.Printf("TEST MODE: event %d/%d: %s (%s) -> %s", i+1, len(events), ev.Kind(), ev.UUID, req.URL)
		if emit != nil {
			emit(ev, req)
		}
		sent++

		if i < len(events)-1 {
			time.Sleep(testEventDelay)
		}
	}

	log.Printf("TEST MODE: %d/%d sample events sent", sent, len(events))
	return sent
}

func consentPtr(c event.Consent) *event.Consent {
	return &c
}
