package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "day", "2020-05-15")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "2020-05-15", rec["day"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "text").Info("hello", "n", 1)
	assert.Contains(t, buf.String(), "msg=hello n=1")
}

func TestMetricsForTesting(t *testing.T) {
	m := NewMetricsForTesting()
	m.ImagesRead.Inc()
	m.DaysSkipped.WithLabelValues("missing").Add(2)
	m.RecordsExported.WithLabelValues("vm").Add(10)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ImagesRead), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DaysSkipped.WithLabelValues("missing")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.RecordsExported.WithLabelValues("vm")), 0)

	// a second set must not collide with the first
	assert.NotPanics(t, func() { NewMetricsForTesting() })
}

func TestServer_Healthz(t *testing.T) {
	srv := NewServer(":0", slog.Default())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(":0", slog.Default())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
