package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecordRequestExposition(t *testing.T) {
	m := New()
	m.RecordRequest("generate", StatusOK, 150*time.Millisecond)
	m.RecordRequest("generate", StatusOK, 300*time.Millisecond)
	m.RecordRequest("generate", StatusUnauthorized, time.Millisecond)
	m.RecordRequest("ask", StatusError, 2*time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `ollama_gate_requests_total{route="generate",status="ok"} 2`)
	assert.Contains(t, body, `ollama_gate_requests_total{route="generate",status="unauthorized"} 1`)
	assert.Contains(t, body, `ollama_gate_requests_total{route="ask",status="error"} 1`)
	assert.Contains(t, body, `ollama_gate_request_duration_seconds_count{route="generate"} 3`)
}

func TestRecordLinesExposition(t *testing.T) {
	m := New()
	m.RecordLines("ask", 3)
	m.RecordLines("ask", 2)

	body := scrape(t, m)
	assert.Contains(t, body, `ollama_gate_relay_lines_total{route="ask"} 5`)
}

func TestRecordLinesIgnoresEmptyStreams(t *testing.T) {
	m := New()
	m.RecordLines("generate", 0)

	body := scrape(t, m)
	assert.NotContains(t, body, "ollama_gate_relay_lines_total")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.RecordRequest("generate", StatusOK, time.Second)

	assert.NotContains(t, scrape(t, b), "ollama_gate_requests_total")
}
