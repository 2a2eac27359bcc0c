package sink

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shortontech/gosegment/internal/event"
	"github.com/shortontech/gosegment/internal/segment"
)

// Sink delivers built Segment requests somewhere: a log, a broker, an outbox
// table or the Segment API itself.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(m Message) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// Message is the unit handed to every sink.
type Message struct {
	ID        string           `json:"id"`
	Kind      event.Kind       `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	Request   *segment.Request `json:"request"`
}

// NewMessage wraps req for delivery. ID is the event UUID so downstream
// consumers can deduplicate.
func NewMessage(ev event.Event, req *segment.Request) Message {
	return Message{
		ID:        ev.UUID,
		Kind:      ev.Kind(),
		CreatedAt: time.Now().UTC(),
		Request:   req,
	}
}

// Redacted returns a copy of m safe to write to logs.
func (m Message) Redacted() Message {
	if m.Request != nil {
		m.Request = m.Request.Redacted()
	}
	return m
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
