package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/regiontree/pkg/observability"
)

func TestPrometheusHandler_ServesIndexMetrics(t *testing.T) {
	t.Parallel()

	handler, provider, err := observability.PrometheusHandler()
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, provider.Shutdown(context.Background())) })

	im, err := observability.NewIndexMetrics(provider.Meter("test"))
	require.NoError(t, err)

	im.RecordMutation(context.Background(), "gpu0", observability.OpInsert, time.Microsecond, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "target_info")
	assert.Contains(t, body, "regiontree_index_ops")
	assert.Contains(t, body, `space="gpu0"`)
}

func TestHTTPMiddleware(t *testing.T) {
	t.Parallel()

	tracer := nooptrace.NewTracerProvider().Tracer("test")

	ok := observability.HTTPMiddleware(tracer, http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write([]byte("fine"))
	}))

	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fine", rec.Body.String())

	failing := observability.HTTPMiddleware(tracer, http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
