package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shortontech/gosegment/internal/metrics"
)

// HTTPConfig holds configuration for direct dispatch to Segment.
type HTTPConfig struct {
	TimeoutMS int
	QueueSize int
	Workers   int
}

// HTTPSink sends each request to its URL from a small worker pool. There is
// no retry: a non-2xx answer is logged and counted.
type HTTPSink struct {
	config  HTTPConfig
	client  *http.Client
	metrics *metrics.Metrics

	mu     sync.RWMutex
	queue  chan Message
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var errQueueFull = errors.New("dispatch queue full")

// StatusError reports a non-2xx answer from the Segment API.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dispatch to %s: unexpected status %d: %s", e.URL, e.Code, e.Body)
}

// NewHTTPSinkFromEnv creates an HTTPSink from DISPATCH_* environment variables.
func NewHTTPSinkFromEnv() *HTTPSink {
	s := NewHTTPSink(HTTPConfig{
		TimeoutMS: getIntEnv("DISPATCH_TIMEOUT_MS", 10000),
		QueueSize: getIntEnv("DISPATCH_QUEUE_SIZE", 1000),
		Workers:   getIntEnv("DISPATCH_WORKERS", 4),
	})
	s.metrics = metrics.GetMetrics()
	return s
}

func NewHTTPSink(cfg HTTPConfig) *HTTPSink {
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 10000
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &HTTPSink{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan Message, s.config.QueueSize)
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return nil
}

func (s *HTTPSink) Enqueue(m Message) error {
	if m.Request == nil {
		return errors.New("message has no request")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil || s.closed {
		return errors.New("http sink not started")
	}
	select {
	case s.queue <- m:
		s.metrics.SetQueueDepth(s.Name(), float64(len(s.queue)))
		return nil
	default:
		return errQueueFull
	}
}

func (s *HTTPSink) worker() {
	defer s.wg.Done()
	for m := range s.queue {
		s.metrics.SetQueueDepth(s.Name(), float64(len(s.queue)))
		start := time.Now()
		if err := s.send(s.ctx, m); err != nil {
			log.Printf("httpsink: %s %s: %v", m.Kind, m.ID, err)
			var se *StatusError
			if errors.As(err, &se) {
				s.metrics.IncrementSinkErrors(s.Name(), "status_error")
			} else {
				s.metrics.IncrementSinkErrors(s.Name(), "transport_error")
			}
			continue
		}
		s.metrics.ObserveBatchFlushLatency(s.Name(), time.Since(start))
	}
}

// send performs one dispatch.
func (s *HTTPSink) send(ctx context.Context, m Message) error {
	req, err := m.Request.HTTPRequest(ctx)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", m.Request.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: m.Request.URL, Code: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close drains the queue and waits for in-flight requests.
func (s *HTTPSink) Close() error {
	s.mu.Lock()
	if s.queue == nil || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	return nil
}
