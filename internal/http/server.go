package httpx

import "net/http"

func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)

	mux.HandleFunc("/v1/page", e.Page)
	mux.HandleFunc("/v1/track", e.Track)
	mux.HandleFunc("/v1/identify", e.Identify)
	mux.HandleFunc("/v1/events", e.Events)
	mux.HandleFunc("/v1/preview", e.Preview)

	// Apply CORS, metrics, and request logging middleware
	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(mux)))
}
