package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shortontech/gosegment/internal/event"
	httpx "github.com/shortontech/gosegment/internal/http"
	"github.com/shortontech/gosegment/internal/metrics"
	"github.com/shortontech/gosegment/internal/segment"
	"github.com/shortontech/gosegment/internal/sink"
	"github.com/shortontech/gosegment/pkg/config"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe /healthz on SERVER_ADDR and exit")
	testMode := flag.Bool("test-mode", false, "send sample events through the sinks and exit")
	flag.Parse()

	cfg := config.Load()

	if *healthcheck {
		host, port := healthcheckTarget(cfg.ServerAddr)
		if err := performHealthCheck(host, port); err != nil {
			fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	appMetrics := metrics.InitMetrics()
	metricsServer := metrics.NewServerFor(metrics.LoadConfig(), appMetrics.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := metricsServer.Start(ctx); err != nil {
		log.Printf("failed to start metrics server: %v", err)
	}

	provider := segment.NewProvider(segment.WithEndpoint(cfg.SegmentEndpoint))
	sinks := initializeSinks(ctx, cfg.Outputs)
	emit := createEmitFunc(sinks, appMetrics)

	if *testMode || cfg.TestMode {
		creds := testCredentials(cfg)
		runTestMode(func(ev event.Event) (*segment.Request, error) {
			return provider.Build(ev, creds)
		}, emit)
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := shutdown(shutdownCtx, nil, metricsServer, sinks); err != nil {
			log.Printf("shutdown: %v", err)
		}
		return
	}

	env := httpx.Env{
		Cfg:      cfg,
		Provider: provider,
		Emit:     emit,
		Metrics:  appMetrics,
		HMACAuth: initializeHMACAuth(cfg),
	}
	srv := startHTTPServer(cfg, env)

	waitForShutdown(srv, metricsServer, sinks)
}

// initializeSinks creates and starts the sinks named in outputs. Unknown
// names and sinks that fail to start are logged and skipped.
func initializeSinks(ctx context.Context, outputs []string) []sink.Sink {
	var sinks []sink.Sink
	for _, output := range outputs {
		var s sink.Sink
		switch strings.ToLower(strings.TrimSpace(output)) {
		case "log":
			s = sink.NewLogSink()
		case "http", "segment":
			s = sink.NewHTTPSinkFromEnv()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv()
		case "postgres", "pg":
			s = sink.NewPGSinkFromEnv()
		case "redis":
			s = sink.NewRedisSinkFromEnv()
		default:
			log.Printf("unknown output %q, skipping", output)
			continue
		}

		if err := s.Start(ctx); err != nil {
			log.Printf("failed to start %s sink: %v", s.Name(), err)
			continue
		}
		log.Printf("%s sink started", s.Name())
		sinks = append(sinks, s)
	}
	return sinks
}

// initializeHMACAuth returns nil when no secret is configured.
func initializeHMACAuth(cfg config.Config) *httpx.HMACAuth {
	if cfg.HMACSecret == "" {
		if cfg.RequireHMAC {
			log.Printf("WARNING: REQUIRE_HMAC=true but HMAC_SECRET is empty; signatures are not checked")
		}
		return nil
	}
	log.Printf("HMAC signature verification enabled (required=%v)", cfg.RequireHMAC)
	return httpx.NewHMACAuth(cfg.HMACSecret, cfg.RequireHMAC)
}

// createEmitFunc fans a built request out to every sink. A failing sink does
// not stop delivery to the others.
func createEmitFunc(sinks []sink.Sink, appMetrics *metrics.Metrics) func(event.Event, *segment.Request) {
	return func(ev event.Event, req *segment.Request) {
		msg := sink.NewMessage(ev, req)
		for _, s := range sinks {
			if err := s.Enqueue(msg); err != nil {
				log.Printf("%s sink: enqueue %s: %v", s.Name(), msg.ID, err)
				appMetrics.IncrementSinkErrors(s.Name(), "enqueue_error")
				continue
			}
			appMetrics.IncrementSinkDeliveries(s.Name())
		}
	}
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	useTLS := cfg.EnableHTTPS
	if useTLS && (cfg.SSLCertFile == "" || cfg.SSLKeyFile == "") {
		log.Printf("WARNING: ENABLE_HTTPS=true but SSL_CERT_FILE or SSL_KEY_FILE is empty; serving plain HTTP")
		useTLS = false
	}

	go func() {
		var err error
		if useTLS {
			log.Printf("gosegment listening on %s (https)", cfg.ServerAddr)
			err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
		} else {
			log.Printf("gosegment listening on %s", cfg.ServerAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	return srv
}

// healthcheckTarget maps a listen address such as ":19890" to a dialable host
// and port.
func healthcheckTarget(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", "19890"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port
}

func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	url := "http://" + net.JoinHostPort(host, port) + "/healthz"

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("unexpected response body: %q", body)
	}
	return nil
}

func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Printf("received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx, srv, metricsServer, sinks); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// shutdown stops accepting requests first, then flushes the sinks. A nil srv
// or metricsServer is skipped.
func shutdown(ctx context.Context, srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) error {
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
