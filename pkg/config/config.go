package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/shortontech/gosegment/internal/segment"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	DNTRespect   bool
	MaxBodyBytes int64    // per request body
	Outputs      []string // enabled sinks: log, http, kafka, postgres, redis

	SegmentProjectID string
	SegmentWriteKey  string
	SegmentEndpoint  string

	HMACSecret  string // verifies X-Gosegment-Signature when set
	RequireHMAC bool

	EnableHTTPS bool
	SSLCertFile string
	SSLKeyFile  string

	TestMode bool
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		TrustProxy:   getBool("TRUST_PROXY", false),
		DNTRespect:   getBool("DNT_RESPECT", true),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		Outputs:      getStringSlice("OUTPUTS", "log"),  // default to log only

		SegmentProjectID: os.Getenv("SEGMENT_PROJECT_ID"),
		SegmentWriteKey:  os.Getenv("SEGMENT_WRITE_KEY"),
		SegmentEndpoint:  getOr("SEGMENT_ENDPOINT", segment.DefaultEndpoint),

		HMACSecret:  os.Getenv("HMAC_SECRET"),
		RequireHMAC: getBool("REQUIRE_HMAC", false),

		EnableHTTPS: getBool("ENABLE_HTTPS", false),
		SSLCertFile: os.Getenv("SSL_CERT_FILE"),
		SSLKeyFile:  os.Getenv("SSL_KEY_FILE"),

		TestMode: getBool("TEST_MODE", false),
	}
}

// Credentials returns the credential map passed to the Segment provider.
// Unset values are left out so the provider reports them as missing.
func (c Config) Credentials() map[string]string {
	creds := make(map[string]string, 2)
	if c.SegmentProjectID != "" {
		creds[segment.KeyProjectID] = c.SegmentProjectID
	}
	if c.SegmentWriteKey != "" {
		creds[segment.KeyWriteKey] = c.SegmentWriteKey
	}
	return creds
}
