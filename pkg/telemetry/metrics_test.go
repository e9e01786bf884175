package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	Reconnects.Inc()
	FramesDropped.WithLabelValues("parse_error").Inc()
	ActionsDispatched.WithLabelValues("pid").Inc()
	ConnectionState.Set(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "periscope_transport_reconnects_total"), "reconnect counter missing")
	assert.True(t, strings.Contains(body, `periscope_transport_frames_dropped_total{reason="parse_error"}`), "frame drop counter missing")
	assert.True(t, strings.Contains(body, "periscope_transport_connection_state 2"), "connection gauge missing")
}
