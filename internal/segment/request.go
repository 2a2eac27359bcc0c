package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is a fully-formed outbound call. The host decides when and how to
// send it.
type Request struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers"`
	Body    string   `json:"body"`
}

const redacted = "[REDACTED]"

func buildRequest(url string, p *Payload, creds Credentials) (*Request, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("segment: encode %s payload: %w", p.Type, err)
	}
	return &Request{
		Method: http.MethodPost,
		URL:    url,
		Headers: []Header{
			{Name: "authorization", Value: creds.Authorization()},
			{Name: "content-type", Value: "application/json"},
		},
		Body: string(body),
	}, nil
}

// Header returns the value of the named header, case-insensitively.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Redacted returns a copy safe to log: the authorization value is masked.
func (r *Request) Redacted() *Request {
	out := *r
	out.Headers = make([]Header, len(r.Headers))
	for i, h := range r.Headers {
		if strings.EqualFold(h.Name, "authorization") {
			h.Value = redacted
		}
		out.Headers[i] = h
	}
	return &out
}

// HTTPRequest converts r into a *http.Request bound to ctx.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, strings.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("segment: build http request: %w", err)
	}
	for _, h := range r.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	return req, nil
}
