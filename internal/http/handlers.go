package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shortontech/gosegment/internal/event"
	"github.com/shortontech/gosegment/internal/metrics"
	"github.com/shortontech/gosegment/internal/segment"
	cfg "github.com/shortontech/gosegment/pkg/config"
)

const acceptedHeader = "X-Gosegment-Accepted"

type Env struct {
	Cfg      cfg.Config
	Provider *segment.Provider
	Emit     func(event.Event, *segment.Request) // injected sink fan-out
	Metrics  *metrics.Metrics
	HMACAuth *HMACAuth
	Now      func() time.Time // defaults to time.Now
}

// itemError describes one rejected event of a batch.
type itemError struct {
	Index  int            `json:"index"`
	Error  string         `json:"error"`
	Reason segment.Reason `json:"reason,omitempty"`
}

type ingestResult struct {
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected,omitempty"`
	Skipped  int         `json:"skipped,omitempty"`
	Status   string      `json:"status"`
	Errors   []itemError `json:"errors,omitempty"`
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Provider == nil {
		http.Error(w, "provider not configured", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// POST /v1/page
func (e Env) Page(w http.ResponseWriter, r *http.Request) { e.ingest(w, r, event.KindPage) }

// POST /v1/track
func (e Env) Track(w http.ResponseWriter, r *http.Request) { e.ingest(w, r, event.KindTrack) }

// POST /v1/identify
func (e Env) Identify(w http.ResponseWriter, r *http.Request) { e.ingest(w, r, event.KindUser) }

// POST /v1/events accepts a single Event object or an array of Events of
// any kind.
func (e Env) Events(w http.ResponseWriter, r *http.Request) { e.ingest(w, r, "") }

// POST /v1/preview builds the request for a single event and returns it
// with the authorization masked. Nothing is emitted.
func (e Env) Preview(w http.ResponseWriter, r *http.Request) {
	body, ok := e.readBody(w, r)
	if !ok {
		return
	}
	evs, _, err := decodeEvents(body, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(evs) != 1 {
		http.Error(w, "preview takes a single event object", http.StatusBadRequest)
		return
	}

	ev := evs[0]
	event.EnrichFromRequest(r, &ev, e.Cfg.TrustProxy, e.now())
	req, err := e.build(ev)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req.Redacted())
}

func (e Env) ingest(w http.ResponseWriter, r *http.Request, kind event.Kind) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Cfg.DNTRespect && r.Header.Get("DNT") == "1" {
		writeJSON(w, http.StatusAccepted, ingestResult{Status: "dnt"})
		return
	}
	body, ok := e.readBody(w, r)
	if !ok {
		return
	}
	evs, batch, err := decodeEvents(body, kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := ingestResult{Status: "ok"}
	now := e.now()
	for i := range evs {
		ev := evs[i]
		event.EnrichFromRequest(r, &ev, e.Cfg.TrustProxy, now)
		if ev.Denied() {
			res.Skipped++
			continue
		}
		req, err := e.build(ev)
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, itemError{Index: i, Error: err.Error(), Reason: segment.ReasonOf(err)})
			continue
		}
		if e.Emit != nil {
			e.Emit(ev, req)
		}
		res.Accepted++
	}

	w.Header().Set(acceptedHeader, strconv.Itoa(res.Accepted))
	if !batch {
		switch {
		case res.Rejected > 0:
			writeValidationError(w, errorFromItem(res.Errors[0]))
			return
		case res.Skipped > 0:
			res = ingestResult{Status: "consent"}
		}
	}
	writeJSON(w, http.StatusAccepted, res)
}

// build runs the core builder and records the outcome.
func (e Env) build(ev event.Event) (*segment.Request, error) {
	kind := string(ev.Kind())
	if kind == "" {
		kind = "unknown"
	}
	if e.Provider == nil {
		return nil, errors.New("provider not configured")
	}
	req, err := e.Provider.Build(ev, event.DictFromMap(e.Cfg.Credentials()))
	if err != nil {
		e.Metrics.IncrementBuildErrors(kind, reasonLabel(err))
		return nil, err
	}
	e.Metrics.IncrementRequestsBuilt(kind)
	return req, nil
}

// readBody enforces method, content type, size and signature. It writes the
// error response itself and reports whether the caller may continue.
func (e Env) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return nil, false
	}

	defer r.Body.Close()
	limit := e.Cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	if e.HMACAuth != nil && !e.HMACAuth.VerifyHMAC(r, body) {
		http.Error(w, "invalid or missing HMAC signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// decodeEvents parses an object or an array of objects. A non-empty kind is
// preset on every event and must not be contradicted by the document.
func decodeEvents(body []byte, kind event.Kind) ([]event.Event, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, errors.New("empty body")
	}

	var raws []json.RawMessage
	batch := body[0] == '['
	if batch {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, true, errors.New("invalid json array")
		}
	} else {
		raws = []json.RawMessage{body}
	}

	evs := make([]event.Event, 0, len(raws))
	for _, raw := range raws {
		ev := event.Event{Type: kind}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, batch, errors.New("invalid json object")
		}
		if kind != "" && ev.Kind() != kind {
			return nil, batch, errors.New("event type " + strconv.Quote(string(ev.Kind())) + " does not match endpoint")
		}
		evs = append(evs, ev)
	}
	return evs, batch, nil
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func reasonLabel(err error) string {
	if reason := segment.ReasonOf(err); reason != "" {
		return string(reason)
	}
	return "internal"
}

func errorFromItem(it itemError) error {
	if it.Reason == "" {
		return errors.New(it.Error)
	}
	return &segment.ValidationError{Reason: it.Reason, Message: it.Error}
}

// writeValidationError answers 422 for builder validation failures and 500
// for anything else.
func writeValidationError(w http.ResponseWriter, err error) {
	reason := segment.ReasonOf(err)
	if reason == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
		"error":  err.Error(),
		"reason": string(reason),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
