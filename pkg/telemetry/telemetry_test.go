package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.Nil(t, tel.Registry)

	counter, err := tel.Meter.Int64Counter("unused")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_EnabledExportsMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "bpindex-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()
	require.True(t, tel.Enabled())

	counter, err := tel.Meter.Int64Counter("bpindex.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.Contains(mf.GetName(), "bpindex_test_calls") {
			found = true
		}
	}
	assert.True(t, found, "counter exported to the registry")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bpindex_test_calls")
}
