package observability_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"acomody/internal/adapters/observability"
)

func TestMetricsRegistryAndHandler(t *testing.T) {
	reg := observability.InitRegistry()

	// record samples so counters are non-zero
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveTransition("confirm", nil)
	observability.ObserveTransition("confirm", errors.New("boom"))
	observability.ObserveQuote(nil)

	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, want := range []string{
		"acomody_http_requests_total",
		`acomody_booking_transitions_total{result="ok",transition="confirm"}`,
		`acomody_booking_transitions_total{result="error",transition="confirm"}`,
		"acomody_price_quotes_total",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output", want)
		}
	}
}

func TestNewLoggerWritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acomody.log")
	l := observability.NewLogger("prod", path)
	l.Info().Str("k", "v").Msg("hello")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello"`) {
		t.Fatalf("log line missing: %s", b)
	}
}
