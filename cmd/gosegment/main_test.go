package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shortontech/gosegment/internal/event"
	httpx "github.com/shortontech/gosegment/internal/http"
	"github.com/shortontech/gosegment/internal/metrics"
	"github.com/shortontech/gosegment/internal/segment"
	"github.com/shortontech/gosegment/internal/sink"
	"github.com/shortontech/gosegment/pkg/config"
)

// Mock sink for testing
type mockSink struct {
	name     string
	mu       sync.Mutex
	messages []sink.Message
	startErr error
	enqErr   error
	closeErr error
	closed   bool
}

func (m *mockSink) Start(ctx context.Context) error { return m.startErr }

func (m *mockSink) Enqueue(msg sink.Message) error {
	if m.enqErr != nil {
		return m.enqErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockSink) Close() error {
	m.closed = true
	return m.closeErr
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func testRequest() *segment.Request {
	return &segment.Request{
		Method:  http.MethodPost,
		URL:     "https://api.segment.io/v1/track",
		Headers: []segment.Header{{Name: "authorization", Value: "Basic a2V5Og=="}},
		Body:    `{"type":"track"}`,
	}
}

func TestInitializeSinks(t *testing.T) {
	ctx := context.Background()

	t.Run("log sink", func(t *testing.T) {
		t.Setenv("LOG_PATH", filepath.Join(t.TempDir(), "out.ndjson"))
		sinks := initializeSinks(ctx, []string{"log"})
		defer shutdown(ctx, nil, nil, sinks)

		if len(sinks) != 1 || sinks[0].Name() != "log" {
			t.Fatalf("sinks = %v, want one log sink", sinks)
		}
	})

	t.Run("http sink", func(t *testing.T) {
		sinks := initializeSinks(ctx, []string{"http"})
		defer shutdown(ctx, nil, nil, sinks)

		if len(sinks) != 1 || sinks[0].Name() != "http" {
			t.Fatalf("sinks = %v, want one http sink", sinks)
		}
	})

	t.Run("unknown output type", func(t *testing.T) {
		if sinks := initializeSinks(ctx, []string{"unknown"}); len(sinks) != 0 {
			t.Errorf("expected 0 sinks for unknown type, got %d", len(sinks))
		}
	})

	t.Run("skips sinks that fail to start", func(t *testing.T) {
		t.Setenv("LOG_PATH", filepath.Join(t.TempDir(), "out.ndjson"))
		t.Setenv("REDIS_ADDR", "127.0.0.1:1")
		sinks := initializeSinks(ctx, []string{"redis", "LOG", "unknown"})
		defer shutdown(ctx, nil, nil, sinks)

		if len(sinks) != 1 || sinks[0].Name() != "log" {
			t.Errorf("sinks = %v, want only the log sink", sinks)
		}
	})
}

func TestInitializeHMACAuth(t *testing.T) {
	t.Run("no HMAC secret", func(t *testing.T) {
		if auth := initializeHMACAuth(config.Config{RequireHMAC: true}); auth != nil {
			t.Error("expected nil auth when no HMAC secret configured")
		}
	})

	t.Run("secret configured", func(t *testing.T) {
		auth := initializeHMACAuth(config.Config{HMACSecret: "s3cret", RequireHMAC: true})
		if auth == nil {
			t.Fatal("expected auth when secret configured")
		}
		payload := []byte(`{}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		req.Header.Set(httpx.SignatureHeader, auth.Sign(payload))
		if !auth.VerifyHMAC(req, payload) {
			t.Error("signature made by the same auth should verify")
		}
	})
}

func TestCreateEmitFunc(t *testing.T) {
	ev := event.Event{UUID: "test-123", Type: event.KindTrack, Data: event.TrackData{Name: "x"}}

	t.Run("successful emit to all sinks", func(t *testing.T) {
		mock1 := &mockSink{name: "sink1"}
		mock2 := &mockSink{name: "sink2"}
		m := metrics.NewMetricsWith(prometheus.NewRegistry())

		createEmitFunc([]sink.Sink{mock1, mock2}, m)(ev, testRequest())

		if mock1.count() != 1 || mock2.count() != 1 {
			t.Fatalf("sink1 = %d, sink2 = %d, want 1 each", mock1.count(), mock2.count())
		}
		msg := mock1.messages[0]
		if msg.ID != "test-123" || msg.Kind != event.KindTrack || msg.Request.URL != "https://api.segment.io/v1/track" {
			t.Errorf("message = %+v", msg)
		}
		if got := counterValue(t, m.SinkDeliveries.WithLabelValues("sink1")); got != 1 {
			t.Errorf("deliveries = %v, want 1", got)
		}
	})

	t.Run("emit with sink error", func(t *testing.T) {
		failing := &mockSink{name: "failing-sink", enqErr: errors.New("enqueue failed")}
		working := &mockSink{name: "working-sink"}
		m := metrics.NewMetricsWith(prometheus.NewRegistry())

		createEmitFunc([]sink.Sink{failing, working}, m)(ev, testRequest())

		if working.count() != 1 {
			t.Error("working sink should receive the message despite failing sink")
		}
		if got := counterValue(t, m.SinkErrors.WithLabelValues("failing-sink", "enqueue_error")); got != 1 {
			t.Errorf("sink errors = %v, want 1", got)
		}
	})

	t.Run("nil metrics and no sinks", func(t *testing.T) {
		createEmitFunc(nil, nil)(ev, testRequest())
	})
}

func TestStartHTTPServer(t *testing.T) {
	t.Run("HTTP server", func(t *testing.T) {
		cfg := config.Config{ServerAddr: "127.0.0.1:0"}
		srv := startHTTPServer(cfg, httpx.Env{Cfg: cfg})
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
	})

	t.Run("HTTPS without certificate files falls back to HTTP", func(t *testing.T) {
		cfg := config.Config{ServerAddr: "127.0.0.1:0", EnableHTTPS: true}
		srv := startHTTPServer(cfg, httpx.Env{Cfg: cfg})
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
	})
}

func TestHealthcheckTarget(t *testing.T) {
	tests := []struct {
		addr, host, port string
	}{
		{":19890", "127.0.0.1", "19890"},
		{"0.0.0.0:8080", "127.0.0.1", "8080"},
		{"[::]:8080", "127.0.0.1", "8080"},
		{"10.0.0.5:9000", "10.0.0.5", "9000"},
		{"garbage", "127.0.0.1", "19890"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			host, port := healthcheckTarget(tt.addr)
			if host != tt.host || port != tt.port {
				t.Errorf("healthcheckTarget(%q) = %s, %s; want %s, %s", tt.addr, host, port, tt.host, tt.port)
			}
		})
	}
}

// hostPort splits an httptest server URL.
func hostPort(t *testing.T, ts *httptest.Server) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("unexpected server URL format: %s", ts.URL)
	}
	return host, port
}

func TestPerformHealthCheck(t *testing.T) {
	t.Run("successful health check against the real mux", func(t *testing.T) {
		ts := httptest.NewServer(httpx.NewMux(httpx.Env{}))
		defer ts.Close()

		host, port := hostPort(t, ts)
		if err := performHealthCheck(host, port); err != nil {
			t.Errorf("health check should succeed: %v", err)
		}
	})

	t.Run("health check connection error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		host, port := hostPort(t, ts)
		ts.Close()

		err := performHealthCheck(host, port)
		if err == nil || !strings.Contains(err.Error(), "failed to connect") {
			t.Errorf("error = %v, want connection failure", err)
		}
	})

	t.Run("health check with non-200 status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		host, port := hostPort(t, ts)
		err := performHealthCheck(host, port)
		if err == nil || !strings.Contains(err.Error(), "status") {
			t.Errorf("error = %v, want status error", err)
		}
	})

	t.Run("health check with wrong response body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("wrong"))
		}))
		defer ts.Close()

		host, port := hostPort(t, ts)
		err := performHealthCheck(host, port)
		if err == nil || !strings.Contains(err.Error(), "unexpected") {
			t.Errorf("error = %v, want unexpected response", err)
		}
	})
}

func TestShutdown(t *testing.T) {
	t.Run("shutdown with all components", func(t *testing.T) {
		srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
		go srv.ListenAndServe()
		time.Sleep(50 * time.Millisecond)

		metricsServer := metrics.NewServer(metrics.Config{Enabled: false, Addr: ":0"})
		mock := &mockSink{name: "test-sink"}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := shutdown(ctx, srv, metricsServer, []sink.Sink{mock}); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
		if !mock.closed {
			t.Error("sink should be closed")
		}
	})

	t.Run("shutdown with sink error closes the rest", func(t *testing.T) {
		failing := &mockSink{name: "error-sink", closeErr: errors.New("close error")}
		other := &mockSink{name: "other"}

		err := shutdown(context.Background(), nil, nil, []sink.Sink{failing, other})
		if err == nil || !strings.Contains(err.Error(), "error-sink") {
			t.Errorf("shutdown() error = %v, want error naming the sink", err)
		}
		if !other.closed {
			t.Error("remaining sinks should still be closed")
		}
	})
}

func TestMainFunctions_Integration(t *testing.T) {
	t.Run("request flows from the mux to the log sink", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "out.ndjson")
		t.Setenv("LOG_PATH", logPath)

		cfg := config.Config{
			DNTRespect:       true,
			MaxBodyBytes:     1 << 20,
			SegmentProjectID: "project-123",
			SegmentWriteKey:  "key",
		}
		sinks := initializeSinks(context.Background(), []string{"log"})
		m := metrics.NewMetricsWith(prometheus.NewRegistry())
		env := httpx.Env{
			Cfg:      cfg,
			Provider: segment.NewProvider(),
			Emit:     createEmitFunc(sinks, m),
			Metrics:  m,
		}

		ts := httptest.NewServer(httpx.NewMux(env))
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/v1/track", "application/json",
			strings.NewReader(`{"uuid":"integration-test","data":{"name":"Signup"}}`))
		if err != nil {
			t.Fatalf("POST /v1/track: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}

		if err := shutdown(context.Background(), nil, nil, sinks); err != nil {
			t.Fatalf("shutdown() error = %v", err)
		}
		out := readFile(t, logPath)
		if !strings.Contains(out, `"id":"integration-test"`) || !strings.Contains(out, "[REDACTED]") {
			t.Errorf("log output = %s", out)
		}
		if got := counterValue(t, m.SinkDeliveries.WithLabelValues("log")); got != 1 {
			t.Errorf("deliveries = %v, want 1", got)
		}
	})
}
