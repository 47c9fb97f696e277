package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/fwlog/testutil"
)

func startClient(t *testing.T, srv *testutil.MockOneBotServer, cfg ClientConfig) *Client {
	t.Helper()
	cfg.URL = srv.WSURL()
	if cfg.Name == "" {
		cfg.Name = "testbot"
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 50 * time.Millisecond
	}
	client := NewClient(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client.Run did not exit after cancel")
		}
	})
	waitFor(t, 2*time.Second, client.Connected)
	return client
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestClientCallRoundtrip(t *testing.T) {
	srv := testutil.NewMockOneBotServer(t)
	srv.Handle("send_group_msg", func(params json.RawMessage) (string, any) {
		return "ok", map[string]any{"message_id": 1}
	})
	client := startClient(t, srv, ClientConfig{})

	err := client.SendMessage(context.Background(), Target{Kind: "group", ID: "42"}, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Action != "send_group_msg" {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Echo == "" {
		t.Error("request carried no correlation token")
	}
}

func TestClientCallTimeout(t *testing.T) {
	srv := testutil.NewMockOneBotServer(t)
	srv.Handle("get_forward_msg", func(params json.RawMessage) (string, any) {
		return "", nil // never respond
	})
	client := startClient(t, srv, ClientConfig{CallTimeout: 100 * time.Millisecond})

	_, err := client.GetForwardMessage(context.Background(), "id", "f1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestClientEventDelivery(t *testing.T) {
	srv := testutil.NewMockOneBotServer(t)
	var mu sync.Mutex
	var events []*MessageEvent
	client := NewClient(ClientConfig{Name: "testbot", URL: srv.WSURL(), ReconnectBackoff: 50 * time.Millisecond})
	client.OnEvent(func(ev *MessageEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	waitFor(t, 2*time.Second, client.Connected)

	err := srv.PushEvent(map[string]any{
		"post_type":    "message",
		"message_type": "group",
		"group_id":     7,
		"user_id":      8,
		"message":      "via event",
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got := events[0].Message.Flatten(); got != "via event" {
		t.Errorf("event text = %q", got)
	}
}

func TestClientReconnects(t *testing.T) {
	srv := testutil.NewMockOneBotServer(t)
	client := startClient(t, srv, ClientConfig{})

	srv.CloseConns()
	waitFor(t, 2*time.Second, func() bool { return !client.Connected() })
	waitFor(t, 2*time.Second, client.Connected)
}

func TestConnectionLossFailsPendingCall(t *testing.T) {
	srv := testutil.NewMockOneBotServer(t)
	srv.Handle("get_forward_msg", func(params json.RawMessage) (string, any) {
		return "", nil // hold the call open
	})
	client := startClient(t, srv, ClientConfig{CallTimeout: 5 * time.Second})

	errc := make(chan error, 1)
	go func() {
		_, err := client.GetForwardMessage(context.Background(), "id", "f1")
		errc <- err
	}()
	// Let the request reach the server before dropping the connection.
	waitFor(t, 2*time.Second, func() bool { return len(srv.Requests()) == 1 })
	srv.CloseConns()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("err = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call leaked after connection loss")
	}
}

func TestCallWhileDisconnected(t *testing.T) {
	client := NewClient(ClientConfig{Name: "idle", URL: "ws://127.0.0.1:1"})
	_, err := client.Call(context.Background(), "send_group_msg", nil)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
}
