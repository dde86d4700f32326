package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingWrapsRoutes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	cfg := testConfig()
	cfg.Tracing = true
	srv := newTestServer(t, cfg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Contains(t, names, "GET /healthz")
}

func TestTracingDisabledServesRouter(t *testing.T) {
	srv := newTestServer(t, testConfig())
	_, isRouter := srv.Handler().(interface{ Routes() []chi.Route })
	require.True(t, isRouter)
}
