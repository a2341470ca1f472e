package observ

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesEventAndFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(LogConfig{Level: "info"}, &buf)

	Log("trade_executed", map[string]any{"symbol": "AAPL", "shares": 2, "err": errors.New("boom")})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trade_executed", line["event"])
	assert.Equal(t, "AAPL", line["symbol"])
	assert.Equal(t, float64(2), line["shares"])
	assert.Equal(t, "boom", line["err"])
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(LogConfig{Level: "warn"}, &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Log("suppressed", nil)
	assert.Empty(t, buf.String())

	Warn("kept", nil)
	assert.Contains(t, buf.String(), "kept")

	InitWriter(LogConfig{Level: "bogus"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestMetrics_CountersGaugesAndHandler(t *testing.T) {
	Reset()
	IncCounter("risk_rejections_total", map[string]string{"reason": "daily_trade_limit", "action": "BUY"})
	IncCounter("risk_rejections_total", map[string]string{"action": "BUY", "reason": "daily_trade_limit"})
	SetGauge("ledger_cash", 800, nil)
	for i := 0; i < maxSamples+10; i++ {
		Observe("cycle_ms", float64(i), nil)
	}

	assert.Equal(t, int64(2), CounterValue("risk_rejections_total", map[string]string{"reason": "daily_trade_limit", "action": "BUY"}))
	v, ok := GaugeValue("ledger_cash", nil)
	require.True(t, ok)
	assert.Equal(t, 800.0, v)

	d := Snapshot()
	assert.Len(t, d.Hist["cycle_ms"][""], maxSamples)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "risk_rejections_total")
}
