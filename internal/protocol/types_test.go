package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireShape(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r-1","method":"invoke-capability","params":{"name":"echo"}}`), &req))

	assert.Equal(t, "r-1", req.ID)
	assert.Equal(t, "invoke-capability", req.Method)
	params, ok := req.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "echo", params["name"])
}

func TestResponseOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(NewResponse("r-1", map[string]interface{}{"ok": true}))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "error")
	assert.NotContains(t, string(data), "CompletedAt")

	data, err = json.Marshal(NewErrorResponse("r-2", NewError(CodeMethodNotFound, "Method not found: x", nil)))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "result")
	assert.Contains(t, string(data), `"code":-32601`)
}

func TestReceivedAtNotOnTheWire(t *testing.T) {
	data, err := json.Marshal(&Request{ID: 1, Method: "server-info"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ReceivedAt")
	assert.NotContains(t, string(data), "receivedAt")
}

func TestErrorImplementsError(t *testing.T) {
	var err error = NewError(CodeToolNotFound, "Unknown tool: ghost", nil)
	assert.Equal(t, "Unknown tool: ghost", err.Error())
}

func TestNumericIDRoundTrip(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"method":"x"}`), &req))

	// JSON numbers decode as float64; the response must echo the same value.
	data, err := json.Marshal(NewResponse(req.ID, "ok"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":42`)
}

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema("echo parameters", map[string]interface{}{
		"message": StringParam("text to echo"),
		"count":   NumberParam("repeat count"),
		"upper":   BooleanParam("uppercase the result"),
	}, []string{"message"})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"message"}, schema["required"])
	props := schema["properties"].(map[string]interface{})
	assert.Equal(t, "string", props["message"].(map[string]interface{})["type"])

	noRequired := ObjectSchema("empty", nil, nil)
	assert.NotContains(t, noRequired, "required")
}

func TestArraySchema(t *testing.T) {
	schema := ArraySchema("strings to join", StringParam("one item"))

	assert.Equal(t, "array", schema["type"])
	assert.Equal(t, "strings to join", schema["description"])
	items := schema["items"].(map[string]interface{})
	assert.Equal(t, "string", items["type"])
}

func TestNewTextContent(t *testing.T) {
	content := NewTextContent("hello")
	assert.Equal(t, "text", content.Type)
	assert.Equal(t, "hello", content.Text)
}
