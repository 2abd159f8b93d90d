package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/metrics"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopCheckout struct{}

func (noopCheckout) Begin(context.Context, string, string) (*service.CheckoutSession, error) {
	return nil, service.ErrNoItemSelected
}

func (noopCheckout) Submit(context.Context, *service.SubmitInput) (*service.CheckoutResult, error) {
	return nil, service.ErrUnknownSession
}

func (noopCheckout) Resume(context.Context, string) (*service.CheckoutResult, error) {
	return nil, service.ErrUnknownSession
}

func (noopCheckout) HandleWebhook(context.Context, []byte, string) error { return nil }

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	m.ObserveStep("resolve_item", "ok")
	return NewServer(logger, noopCheckout{}, nil, m).Handler()
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t)

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/checkout/session", http.StatusBadRequest},
		{http.MethodPost, "/api/checkout/submit", http.StatusBadRequest},
		{http.MethodGet, "/checkout/success?order=ord-1", http.StatusOK},
		{http.MethodPost, "/api/stripe/webhook", http.StatusOK},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), "%s %s", tc.method, tc.path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `checkout_steps_total{outcome="ok",step="resolve_item"} 1`)
}
