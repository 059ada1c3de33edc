package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

func startHTTPAdapter(t *testing.T, cfg *HTTPConfig) (*HTTPAdapter, string) {
	t.Helper()
	if cfg == nil {
		cfg = &HTTPConfig{}
	}
	cfg.Address = "127.0.0.1:0"
	if cfg.ServerName == "" {
		cfg.ServerName = "test-server"
	}
	adapter := NewHTTPAdapter(cfg, nil)
	require.NoError(t, adapter.Start(context.Background()))
	t.Cleanup(func() { _ = adapter.Stop() })
	return adapter, "http://" + adapter.Addr()
}

func postRPC(t *testing.T, base string, body string) *protocol.Response {
	t.Helper()
	resp, err := http.Post(base+"/rpc", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func TestHTTPAdapterExchangeReturnsDispatchedResult(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)

	// The sink plays dispatch core: deliver the real result through Send.
	adapter.OnMessage(func(connID string, req *protocol.Request) {
		go func() {
			err := adapter.Send(connID, protocol.NewResponse(req.ID, map[string]interface{}{"echoed": req.Method}))
			assert.NoError(t, err)
		}()
	})

	out := postRPC(t, base, `{"id":42,"method":"list-capabilities"}`)
	assert.EqualValues(t, 42, out.ID)
	require.Nil(t, out.Error)
	result, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "list-capabilities", result["echoed"])
}

func TestHTTPAdapterSynthesizesFreshConnectionIDs(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)

	ids := make(chan string, 2)
	adapter.OnMessage(func(connID string, req *protocol.Request) {
		ids <- connID
		go func() { _ = adapter.Send(connID, protocol.NewResponse(req.ID, "ok")) }()
	})

	postRPC(t, base, `{"id":1,"method":"a"}`)
	postRPC(t, base, `{"id":2,"method":"a"}`)

	first, second := <-ids, <-ids
	assert.NotEqual(t, first, second)
	assert.Equal(t, "http", idPrefix(first))
}

func TestHTTPAdapterAtMostOneSendPerExchange(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)

	sendErrs := make(chan error, 2)
	adapter.OnMessage(func(connID string, req *protocol.Request) {
		go func() {
			sendErrs <- adapter.Send(connID, protocol.NewResponse(req.ID, "first"))
			sendErrs <- adapter.Send(connID, protocol.NewResponse(req.ID, "second"))
		}()
	})

	postRPC(t, base, `{"id":1,"method":"a"}`)

	assert.NoError(t, <-sendErrs)
	assert.ErrorIs(t, <-sendErrs, ErrConnectionNotFound)
}

func TestHTTPAdapterExchangeTimeout(t *testing.T) {
	adapter, base := startHTTPAdapter(t, &HTTPConfig{ExchangeTimeout: 50 * time.Millisecond})

	// Dispatch never answers.
	adapter.OnMessage(func(string, *protocol.Request) {})

	out := postRPC(t, base, `{"id":9,"method":"slow"}`)
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.CodeInternalError, out.Error.Code)
	assert.Contains(t, out.Error.Message, "timed out")
	assert.EqualValues(t, 9, out.ID)
}

func TestHTTPAdapterRejectsInvalidJSON(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)
	adapter.OnMessage(func(string, *protocol.Request) {
		t.Error("malformed body must never reach the sink")
	})

	out := postRPC(t, base, "not json")
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.CodeParseError, out.Error.Code)
}

func TestHTTPAdapterHealthEndpoint(t *testing.T) {
	_, base := startHTTPAdapter(t, nil)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test-server", health["server"])
	assert.NotEmpty(t, health["timestamp"])
}

func TestHTTPAdapterHealthMergesOwnerInfo(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)
	adapter.SetHealthInfo(func() map[string]interface{} {
		return map[string]interface{}{"uptime": 12.5, "connections": 3}
	})

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 12.5, health["uptime"])
	assert.EqualValues(t, 3, health["connections"])
}

func TestHTTPAdapterLifecyclePerExchange(t *testing.T) {
	adapter, base := startHTTPAdapter(t, nil)

	events := make(chan LifecycleEvent, 4)
	adapter.OnLifecycle(func(ev LifecycleEvent) { events <- ev })
	adapter.OnMessage(func(connID string, req *protocol.Request) {
		go func() { _ = adapter.Send(connID, protocol.NewResponse(req.ID, "ok")) }()
	})

	postRPC(t, base, `{"id":1,"method":"a"}`)

	connected := <-events
	disconnected := <-events
	assert.Equal(t, EventConnected, connected.Type)
	assert.Equal(t, EventDisconnected, disconnected.Type)
	assert.Equal(t, connected.ConnectionID, disconnected.ConnectionID)
	assert.Equal(t, "http", connected.Channel)
}

func TestHTTPAdapterStartFailsOnOccupiedAddress(t *testing.T) {
	first, _ := startHTTPAdapter(t, nil)

	second := NewHTTPAdapter(&HTTPConfig{Address: first.Addr()}, nil)
	err := second.Start(context.Background())
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "http", startErr.Channel)
}

func TestHTTPAdapterMethodNotAllowed(t *testing.T) {
	_, base := startHTTPAdapter(t, nil)

	resp, err := http.Get(base + "/rpc")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
