package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/onnwee/fwlog/telemetry"
)

const (
	defaultCallTimeout      = 20 * time.Second
	defaultReconnectBackoff = 3 * time.Second
	dialTimeout             = 10 * time.Second

	// Forward bundles can be large; the library default read limit (32 KiB)
	// truncates them.
	readLimit = 16 << 20
)

// ClientConfig configures one bot identity.
type ClientConfig struct {
	Name             string
	URL              string
	Token            string        // optional bearer token for the handshake
	CallTimeout      time.Duration // default 20s
	ReconnectBackoff time.Duration // default 3s
}

// Client owns one logical websocket connection to a OneBot endpoint. Run
// maintains the connection in a reconnect loop; Call issues correlated API
// requests over whichever connection instance is current.
type Client struct {
	name             string
	url              string
	token            string
	callTimeout      time.Duration
	reconnectBackoff time.Duration

	corr    *correlator
	onEvent func(*MessageEvent)

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewClient creates a client; call OnEvent before Run.
func NewClient(cfg ClientConfig) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	return &Client{
		name:             cfg.Name,
		url:              cfg.URL,
		token:            cfg.Token,
		callTimeout:      cfg.CallTimeout,
		reconnectBackoff: cfg.ReconnectBackoff,
		corr:             newCorrelator(),
	}
}

// Name returns the configured bot identity name.
func (c *Client) Name() string { return c.name }

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool { return c.connected.Load() }

// OnEvent registers the inbound event callback. The callback runs on the read
// loop goroutine and must not block; enqueueing into the ingestion pipeline is
// expected to be non-blocking.
func (c *Client) OnEvent(fn func(*MessageEvent)) { c.onEvent = fn }

// Run connects and services the connection until ctx is canceled, redialing
// after a fixed backoff on every disconnect. All outstanding calls are failed
// with ErrConnectionLost when the connection drops.
func (c *Client) Run(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "onebot"), slog.String("bot", c.name))
	for {
		if ctx.Err() != nil {
			return
		}
		log.Info("connecting", slog.String("url", c.url))
		if err := c.connectAndServe(ctx, log); err != nil && ctx.Err() == nil {
			log.Warn("connection lost", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectBackoff):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context, log *slog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(dialCtx, c.url, opts)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	if telemetry.Reconnects != nil {
		telemetry.Reconnects.Inc()
	}
	telemetry.SetConnected(c.name, true)
	log.Info("connected")

	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.connected.Store(false)
	telemetry.SetConnected(c.name, false)
	// Every outstanding waiter on this connection instance resolves exactly
	// once, with ErrConnectionLost.
	c.corr.failAll(ErrConnectionLost)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return err
}

// readLoop classifies every inbound frame once: responses go to the
// correlator, message events to the OnEvent callback, anything else is
// ignored. It must never block on downstream work so responses keep arriving
// while a handler waits on a call.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	log := slog.Default().With(slog.String("component", "onebot"), slog.String("bot", c.name))
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		kind, resp, ev := classifyFrame(data)
		switch kind {
		case frameResponse:
			c.corr.resolve(resp.Echo, resp)
		case frameEvent:
			if telemetry.EventsReceived != nil {
				telemetry.EventsReceived.Inc()
			}
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		default:
			log.Debug("ignoring frame", slog.Int("bytes", len(data)))
		}
	}
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrConnectionLost
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Call issues an API request tagged with a fresh correlation token and blocks
// until the matching response, the call timeout, or connection teardown. The
// returned response carries its raw status; callers interpret it.
func (c *Client) Call(ctx context.Context, action string, params any) (*Response, error) {
	token, ch := c.corr.register()
	req := apiRequest{Action: action, Params: params, Echo: token, Token: c.token}
	payload, err := json.Marshal(req)
	if err != nil {
		c.corr.drop(token)
		return nil, fmt.Errorf("marshal %s: %w", action, err)
	}
	if telemetry.RPCCalls != nil {
		telemetry.RPCCalls.Inc()
	}
	start := time.Now()
	if err := c.send(ctx, payload); err != nil {
		c.corr.drop(token)
		if telemetry.RPCFailures != nil {
			telemetry.RPCFailures.Inc()
		}
		return nil, fmt.Errorf("send %s: %w", action, err)
	}
	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.corr.drop(token)
		return nil, ctx.Err()
	case <-timer.C:
		c.corr.drop(token)
		if telemetry.RPCTimeouts != nil {
			telemetry.RPCTimeouts.Inc()
		}
		return nil, fmt.Errorf("%s: %w", action, ErrTimeout)
	case res := <-ch:
		if telemetry.RPCDuration != nil {
			telemetry.RPCDuration.Observe(time.Since(start).Seconds())
		}
		if res.err != nil {
			if telemetry.RPCFailures != nil {
				telemetry.RPCFailures.Inc()
			}
			return nil, fmt.Errorf("%s: %w", action, res.err)
		}
		return res.resp, nil
	}
}

// SendMessage posts text to a group or private conversation.
func (c *Client) SendMessage(ctx context.Context, t Target, text string) error {
	var action string
	params := map[string]any{"message": text}
	switch t.Kind {
	case "group":
		action = "send_group_msg"
		params["group_id"] = t.ID
	case "private":
		action = "send_private_msg"
		params["user_id"] = t.ID
	default:
		return fmt.Errorf("send message: unknown target kind %q", t.Kind)
	}
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%s: status %s (retcode %d)", action, resp.Status, resp.RetCode)
	}
	return nil
}

// GetForwardMessage resolves a forward bundle id into its constituent nodes.
// paramName selects which request attribute carries the id ("id" or
// "message_id"); endpoints disagree, so callers retry with the alternate name.
func (c *Client) GetForwardMessage(ctx context.Context, paramName, id string) ([]ForwardNode, error) {
	resp, err := c.Call(ctx, "get_forward_msg", map[string]any{paramName: id})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("get_forward_msg %s=%s: status %s", paramName, id, resp.Status)
	}
	nodes, err := decodeForwardData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("get_forward_msg decode: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("get_forward_msg %s=%s: empty bundle", paramName, id)
	}
	return nodes, nil
}

// UploadFile sends a file to the conversation via the upload API. fileParam is
// typically a base64:// payload.
func (c *Client) UploadFile(ctx context.Context, t Target, fileParam, name string) error {
	var action string
	params := map[string]any{"file": fileParam, "name": name}
	switch t.Kind {
	case "group":
		action = "upload_group_file"
		params["group_id"] = t.ID
	case "private":
		action = "upload_private_file"
		params["user_id"] = t.ID
	default:
		return fmt.Errorf("upload file: unknown target kind %q", t.Kind)
	}
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%s: status %s (retcode %d)", action, resp.Status, resp.RetCode)
	}
	return nil
}
