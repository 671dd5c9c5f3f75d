package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubInbox struct {
	calls int
}

func (s *stubInbox) Enqueue(context.Context, string, string, string, json.RawMessage) (bool, error) {
	s.calls++
	return true, nil
}

type stubSecret struct{}

func (stubSecret) SigningSecret() string { return "whsec_test" }

func newTestRouter(t *testing.T, redisErr error) (http.Handler, *stubInbox) {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "dev"
	reg := prometheus.NewRegistry()
	inbox := &stubInbox{}
	router := NewRouter(RouterParams{
		Config:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:          stubPinger{},
		Redis:       stubPinger{err: redisErr},
		Inbox:       inbox,
		Stripe:      stubSecret{},
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	})
	return router, inbox
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: request id header missing", path)
		}
	}
}

func TestReadyReportsDependencyFailure(t *testing.T) {
	router, _ := newTestRouter(t, errors.New("redis down"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "redis") {
		t.Fatalf("expected failing dependency in body, got %s", rec.Body.String())
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `settlement_http_requests_total{method="GET",route="/health/live",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestWebhookRouteRequiresSignature(t *testing.T) {
	router, inbox := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if inbox.calls != 0 {
		t.Fatalf("unsigned payload reached the inbox")
	}
}
