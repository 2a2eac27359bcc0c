package event

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnrichFromRequest fills fields the client left empty from the inbound HTTP
// request. Values supplied by the client always win.
func EnrichFromRequest(r *http.Request, e *Event, trustProxy bool, now time.Time) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	fillTimestamps(e, now)

	c := &e.Context.Client
	if c.UserAgent == "" {
		c.UserAgent = r.UserAgent()
	}
	if c.IP == "" {
		c.IP = clientIPFromRequest(r, trustProxy)
	}
	if c.Locale == "" {
		c.Locale = primaryLanguage(r.Header.Get("Accept-Language"))
	}

	if e.Context.Page.Referrer == "" {
		e.Context.Page.Referrer = r.Referer()
	}
	parsePageURL(e)
}

// fillTimestamps derives the three timestamp resolutions from whichever one
// is set, or from now when none is.
func fillTimestamps(e *Event, now time.Time) {
	switch {
	case e.TimestampMicros != 0:
	case e.TimestampMillis != 0:
		e.TimestampMicros = e.TimestampMillis * 1000
	case e.Timestamp != 0:
		e.TimestampMicros = e.Timestamp * 1_000_000
	default:
		e.TimestampMicros = now.UnixMicro()
	}
	if e.TimestampMillis == 0 {
		e.TimestampMillis = e.TimestampMicros / 1000
	}
	if e.Timestamp == 0 {
		e.Timestamp = e.TimestampMicros / 1_000_000
	}
}

// Path, search and utm_* campaign fields from the page URL (server-side fallback).
func parsePageURL(e *Event) {
	p := &e.Context.Page
	if p.URL == "" {
		return
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return
	}
	if p.Path == "" {
		p.Path = u.Path
	}
	if p.Search == "" && u.RawQuery != "" {
		p.Search = "?" + u.RawQuery
	}

	q := u.Query()
	cp := &e.Context.Campaign
	fillIf(&cp.Name, q, "utm_campaign")
	fillIf(&cp.Source, q, "utm_source")
	fillIf(&cp.Medium, q, "utm_medium")
	fillIf(&cp.Term, q, "utm_term")
	fillIf(&cp.Content, q, "utm_content")
	fillIf(&cp.CreativeFormat, q, "utm_creative_format")
	fillIf(&cp.MarketingTactic, q, "utm_marketing_tactic")
}

func fillIf(dst *string, q url.Values, key string) {
	if *dst != "" {
		return
	}
	if v := strings.TrimSpace(q.Get(key)); v != "" {
		*dst = v
	}
}

// "fr-FR,fr;q=0.9,en;q=0.8" -> "fr-FR"
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
