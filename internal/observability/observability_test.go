package observability_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"VaultLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_ReadyWhenAllDepsReady(t *testing.T) {
	h := observability.NewHealthChecker("db", "replay")
	assert.False(t, h.IsReady())
	assert.Equal(t, []string{"db", "replay"}, h.Pending())

	h.SetReady("db", true)
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []interface{}{"replay"}, body["pending"])

	h.SetReady("replay", true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := observability.NewHealthChecker("db")
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := observability.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "engine", zerolog.InfoLevel)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "shown", line["message"])
}

func TestMetrics_IsolatedRegistry(t *testing.T) {
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	m.SetChannelMetrics("persist", 5, 10)
	assert.Equal(t, 0.5, promtest.ToFloat64(m.ChannelUtilization.WithLabelValues("persist")))

	// a second set on its own registry must not panic on registration
	_ = observability.NewMetricsWith(prometheus.NewRegistry())
}
