package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatchLabelsStatus(t *testing.T) {
	sink := NewPrometheusSink("test")

	sink.ObserveDispatch("list-capabilities", 5*time.Millisecond, true)
	sink.ObserveDispatch("list-capabilities", 5*time.Millisecond, true)
	sink.ObserveDispatch("invoke-capability", 5*time.Millisecond, false)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.dispatchCount.WithLabelValues("list-capabilities", "success")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.dispatchCount.WithLabelValues("invoke-capability", "error")))
	assert.Equal(t, float64(0),
		testutil.ToFloat64(sink.dispatchCount.WithLabelValues("invoke-capability", "success")))
}

func TestConnectionGauge(t *testing.T) {
	sink := NewPrometheusSink("test")

	sink.ConnectionOpened("websocket")
	sink.ConnectionOpened("websocket")
	sink.ConnectionClosed("websocket")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.connections.WithLabelValues("websocket")))
}

func TestFrameCounters(t *testing.T) {
	sink := NewPrometheusSink("test")

	sink.FrameReceived("websocket")
	sink.FrameReceived("websocket")
	sink.FrameSent("websocket")
	sink.FrameDropped("stdio")
	sink.FrameDropped("stdio")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.frames.WithLabelValues("websocket", "received")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.frames.WithLabelValues("websocket", "sent")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.droppedFrames.WithLabelValues("stdio")))
}

func TestSinksAreIndependent(t *testing.T) {
	a := NewPrometheusSink("test")
	b := NewPrometheusSink("test")

	a.ConnectionOpened("http")

	assert.Equal(t, float64(1), testutil.ToFloat64(a.connections.WithLabelValues("http")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.connections.WithLabelValues("http")))
}

func TestHandlerServesRegistry(t *testing.T) {
	sink := NewPrometheusSink("test")
	sink.ObserveDispatch("server-info", time.Millisecond, true)

	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_dispatch_requests_total")
}

func TestNopSinkImplementsSink(t *testing.T) {
	var sink Sink = NopSink{}
	sink.ObserveDispatch("x", time.Millisecond, true)
	sink.ConnectionOpened("x")
	sink.ConnectionClosed("x")
	sink.FrameReceived("x")
	sink.FrameSent("x")
	sink.FrameDropped("x")
}
