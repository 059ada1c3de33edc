package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
)

// collectRequests wires a recording sink and returns an accessor.
func collectRequests(a *StdioAdapter) func() []*protocol.Request {
	var mu sync.Mutex
	var reqs []*protocol.Request
	a.OnMessage(func(connID string, req *protocol.Request) {
		mu.Lock()
		defer mu.Unlock()
		reqs = append(reqs, req)
	})
	return func() []*protocol.Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]*protocol.Request{}, reqs...)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStdioAdapterFraming(t *testing.T) {
	tests := []struct {
		name      string
		delimiter string
		input     string
		methods   []string
	}{
		{
			name:      "newline delimited",
			delimiter: "\n",
			input:     `{"method":"a"}` + "\n" + `{"method":"b"}` + "\n",
			methods:   []string{"a", "b"},
		},
		{
			name:      "custom delimiter",
			delimiter: "\x00",
			input:     `{"method":"a"}` + "\x00" + `{"method":"b"}` + "\x00",
			methods:   []string{"a", "b"},
		},
		{
			name:      "trailing fragment without delimiter is not a frame",
			delimiter: "\n",
			input:     `{"method":"a"}` + "\n" + `{"method":"partial"`,
			methods:   []string{"a"},
		},
		{
			name:      "empty frames ignored",
			delimiter: "\n",
			input:     "\n\n" + `{"method":"a"}` + "\n\n",
			methods:   []string{"a"},
		},
		{
			name:      "malformed frame dropped, later frames survive",
			delimiter: "\n",
			input:     "not json\n" + `{"method":"after"}` + "\n",
			methods:   []string{"after"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewStdioAdapterWithIO(
				&StdioConfig{Delimiter: tt.delimiter},
				strings.NewReader(tt.input),
				&bytes.Buffer{},
				nil,
			)
			got := collectRequests(adapter)

			if err := adapter.Start(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
			defer func() { _ = adapter.Stop() }()

			waitFor(t, func() bool { return len(got()) == len(tt.methods) })
			for i, req := range got() {
				if req.Method != tt.methods[i] {
					t.Errorf("frame %d: got method %q, want %q", i, req.Method, tt.methods[i])
				}
			}
		})
	}
}

// chunkedReader returns its payload in tiny reads to force reassembly.
type chunkedReader struct {
	data []byte
	pos  int
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.size
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func TestStdioAdapterReassemblesSplitFrames(t *testing.T) {
	payload := `{"method":"one","id":1}` + "\n" + `{"method":"two","id":2}` + "\n"
	adapter := NewStdioAdapterWithIO(
		&StdioConfig{Delimiter: "\n"},
		&chunkedReader{data: []byte(payload), size: 3},
		&bytes.Buffer{},
		nil,
	)
	got := collectRequests(adapter)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = adapter.Stop() }()

	waitFor(t, func() bool { return len(got()) == 2 })
	if got()[0].Method != "one" || got()[1].Method != "two" {
		t.Errorf("unexpected methods: %v, %v", got()[0].Method, got()[1].Method)
	}
}

func TestStdioAdapterSendAppendsDelimiter(t *testing.T) {
	out := &bytes.Buffer{}
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	adapter := NewStdioAdapterWithIO(&StdioConfig{Delimiter: "\x1e"}, pr, out, nil)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = adapter.Stop() }()

	adapter.mu.RLock()
	connID := adapter.connID
	adapter.mu.RUnlock()
	if err := adapter.Send(connID, protocol.NewResponse(1, "ok")); err != nil {
		t.Fatalf("send: %v", err)
	}

	data := out.Bytes()
	if !bytes.HasSuffix(data, []byte("\x1e")) {
		t.Errorf("output must end with delimiter, got %q", data)
	}

	var resp protocol.Response
	if err := json.Unmarshal(bytes.TrimSuffix(data, []byte("\x1e")), &resp); err != nil {
		t.Fatalf("output frame not valid JSON: %v", err)
	}
	if resp.Result != "ok" {
		t.Errorf("got result %v, want ok", resp.Result)
	}
}

func TestStdioAdapterSendUnknownConnection(t *testing.T) {
	adapter := NewStdioAdapterWithIO(nil, strings.NewReader(""), &bytes.Buffer{}, nil)

	if err := adapter.Send("stdio-bogus", protocol.NewResponse(1, "ok")); err != ErrConnectionNotFound {
		t.Errorf("got %v, want ErrConnectionNotFound", err)
	}
}

func TestStdioAdapterSingleConnection(t *testing.T) {
	pr, pw := io.Pipe()
	adapter := NewStdioAdapterWithIO(nil, pr, &bytes.Buffer{}, nil)

	if adapter.ConnectionCount() != 0 {
		t.Error("expected no connection before start")
	}

	var mu sync.Mutex
	var events []LifecycleEvent
	adapter.OnLifecycle(func(ev LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if adapter.ConnectionCount() != 1 {
		t.Error("expected exactly one connection while running")
	}

	// Second start on a running adapter is rejected.
	if err := adapter.Start(context.Background()); err == nil {
		t.Error("expected error starting a running adapter")
	}

	// EOF closes the single connection.
	_ = pw.Close()
	waitFor(t, func() bool { return !adapter.IsRunning() })

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0].Type != EventConnected || events[1].Type != EventDisconnected {
		t.Errorf("unexpected lifecycle events: %+v", events)
	}
	if events[0].Channel != "stdio" {
		t.Errorf("got channel %q, want stdio", events[0].Channel)
	}
}

// frameRecorder counts frame accounting calls.
type frameRecorder struct {
	mu       sync.Mutex
	received int
	sent     int
	dropped  int
}

func (r *frameRecorder) FrameReceived(string) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()
}

func (r *frameRecorder) FrameSent(string) {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *frameRecorder) FrameDropped(string) {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

func (r *frameRecorder) counts() (received, sent, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.sent, r.dropped
}

func TestStdioAdapterFrameAccounting(t *testing.T) {
	rec := &frameRecorder{}
	out := &bytes.Buffer{}
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	adapter := NewStdioAdapterWithIO(&StdioConfig{Delimiter: "\n"}, pr, out, nil)
	adapter.SetFrameSink(rec)
	adapter.OnMessage(func(string, *protocol.Request) {})

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = adapter.Stop() }()

	if _, err := pw.Write([]byte("not json\n" + `{"method":"a"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		received, _, dropped := rec.counts()
		return received == 1 && dropped == 1
	})

	adapter.mu.RLock()
	connID := adapter.connID
	adapter.mu.RUnlock()
	if err := adapter.Send(connID, protocol.NewResponse(1, "ok")); err != nil {
		t.Fatalf("send: %v", err)
	}

	received, sent, dropped := rec.counts()
	if received != 1 || sent != 1 || dropped != 1 {
		t.Errorf("got received=%d sent=%d dropped=%d, want 1/1/1", received, sent, dropped)
	}
}

func TestStdioAdapterStopIdempotent(t *testing.T) {
	adapter := NewStdioAdapterWithIO(nil, strings.NewReader(""), &bytes.Buffer{}, nil)

	if err := adapter.Stop(); err != nil {
		t.Errorf("stop on stopped adapter: %v", err)
	}
	if err := adapter.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}
