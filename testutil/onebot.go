package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"nhooyr.io/websocket"
)

// APIHandler answers one mocked API action. Returning an empty status means
// "do not respond at all" (used to provoke call timeouts).
type APIHandler func(params json.RawMessage) (status string, data any)

// MockOneBotServer is a websocket test server speaking the OneBot JSON frame
// protocol: it answers API requests via registered handlers and can push
// platform events to the connected client.
type MockOneBotServer struct {
	*httptest.Server
	mu       sync.Mutex
	handlers map[string]APIHandler
	conns    []*websocket.Conn
	requests []RecordedRequest
}

// RecordedRequest is one API request the server received.
type RecordedRequest struct {
	Action string
	Params json.RawMessage
	Echo   string
}

// NewMockOneBotServer starts a mock endpoint; register handlers with Handle.
func NewMockOneBotServer(t *testing.T) *MockOneBotServer {
	t.Helper()
	m := &MockOneBotServer{handlers: make(map[string]APIHandler)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		m.serve(r.Context(), conn)
	}))
	t.Cleanup(m.Close)
	return m
}

// WSURL returns the ws:// address clients should dial.
func (m *MockOneBotServer) WSURL() string {
	return strings.Replace(m.Server.URL, "http://", "ws://", 1)
}

// Handle registers the responder for an API action.
func (m *MockOneBotServer) Handle(action string, h APIHandler) {
	m.mu.Lock()
	m.handlers[action] = h
	m.mu.Unlock()
}

// Requests returns a copy of all API requests received so far.
func (m *MockOneBotServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// PushEvent sends a platform event frame to every connected client.
func (m *MockOneBotServer) PushEvent(ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conns := append([]*websocket.Conn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		if err := c.Write(context.Background(), websocket.MessageText, payload); err != nil {
			return err
		}
	}
	return nil
}

// CloseConns drops all active connections so clients observe a disconnect.
func (m *MockOneBotServer) CloseConns() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "test disconnect")
	}
}

func (m *MockOneBotServer) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			Action string          `json:"action"`
			Params json.RawMessage `json:"params"`
			Echo   string          `json:"echo"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{Action: req.Action, Params: req.Params, Echo: req.Echo})
		h := m.handlers[req.Action]
		m.mu.Unlock()

		status, payload := "failed", any(nil)
		if h != nil {
			status, payload = h(req.Params)
			if status == "" {
				continue // simulate a lost response
			}
		}
		resp := map[string]any{"echo": req.Echo, "status": status, "retcode": 0, "data": payload}
		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}
