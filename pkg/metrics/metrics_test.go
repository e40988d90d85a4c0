package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var testCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hn_metrics_test_total",
	Help: "Counter registered by the metrics package tests",
})

func TestGatherer(t *testing.T) {
	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

func TestHandler_Metrics(t *testing.T) {
	testCounter.Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hn_metrics_test_total 1") {
		t.Errorf("body does not contain test counter:\n%s", w.Body.String())
	}
}

func TestHandler_Health(t *testing.T) {
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("health = %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestServer_ListenServeShutdown(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	srv, err := Listen("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	srv.Start()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("body = %q, want OK", body)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/health"); err == nil {
		t.Error("GET after Shutdown succeeded, want error")
	}
}

func TestListen_BadAddress(t *testing.T) {
	if _, err := Listen("not-an-address", zerolog.Nop()); err == nil {
		t.Error("Listen() error = nil, want error")
	}
}
