// Package onebot implements a client for OneBot-compatible chat endpoints:
// a persistent websocket connection carrying JSON frames, request/response
// correlation via echo tokens, and the CQ-code message segment model.
package onebot

import (
	"encoding/json"
	"strconv"
)

// apiRequest is the outbound frame for an API call. Echo carries the
// correlation token that ties the eventual response back to the caller.
type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo"`
	Token  string `json:"token,omitempty"`
}

// Response is an inbound frame answering an API call. Status is interpreted
// by the caller; "ok" means success.
type Response struct {
	Echo    string          `json:"echo"`
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// OK reports whether the endpoint accepted the call and returned a payload.
func (r *Response) OK() bool {
	return r.Status == "ok" && len(r.Data) > 0 && string(r.Data) != "null"
}

// StringID decodes a JSON field that some endpoints serialize as a number and
// others as a string.
type StringID string

func (s *StringID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StringID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = StringID(n.String())
	return nil
}

func (s StringID) String() string { return string(s) }

// Sender identifies the author of a message or forward node.
type Sender struct {
	UserID   StringID `json:"user_id"`
	Nickname string   `json:"nickname"`
	Card     string   `json:"card"`
}

// DisplayName prefers the per-session card over the global nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// MessageEvent is an inbound platform event carrying a posted message.
type MessageEvent struct {
	PostType    string   `json:"post_type"`
	MessageType string   `json:"message_type"` // group | private
	GroupID     StringID `json:"group_id"`
	UserID      StringID `json:"user_id"`
	SelfID      StringID `json:"self_id"`
	MessageID   StringID `json:"message_id"`
	Sender      Sender   `json:"sender"`
	Message     Message  `json:"message"`
}

// Target identifies the conversation an outbound message is addressed to.
type Target struct {
	Kind string // group | private
	ID   string
}

// SessionID returns the stable per-conversation identifier. It is
// kind-qualified so a group and a private chat with the same numeric id never
// share state.
func (t Target) SessionID() string { return t.Kind + ":" + t.ID }

// Target returns the conversation the event belongs to, or false for event
// kinds the bot does not handle.
func (e *MessageEvent) Target() (Target, bool) {
	switch e.MessageType {
	case "group":
		return Target{Kind: "group", ID: e.GroupID.String()}, true
	case "private":
		return Target{Kind: "private", ID: e.UserID.String()}, true
	}
	return Target{}, false
}

// ForwardNode is one constituent message inside a resolved forward bundle.
// Endpoints disagree on whether the body lives under "message" or "content".
type ForwardNode struct {
	Sender    Sender   `json:"sender"`
	Time      int64    `json:"time"`
	MessageID StringID `json:"message_id"`
	Message   Message  `json:"message"`
	Content   Message  `json:"content"`
}

// Body returns whichever message field the endpoint populated.
func (n *ForwardNode) Body() Message {
	if len(n.Message) > 0 {
		return n.Message
	}
	return n.Content
}

// frame classification --------------------------------------------------------

type frameKind int

const (
	frameUnknown frameKind = iota
	frameResponse
	frameEvent
)

// classifyFrame inspects an inbound frame exactly once and resolves it into a
// response (echo present), a handled message event, or unknown. Downstream
// code never re-inspects raw payloads.
func classifyFrame(data []byte) (frameKind, *Response, *MessageEvent) {
	var probe struct {
		Echo     string `json:"echo"`
		PostType string `json:"post_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return frameUnknown, nil, nil
	}
	if probe.Echo != "" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return frameUnknown, nil, nil
		}
		return frameResponse, &resp, nil
	}
	if probe.PostType == "message" {
		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return frameUnknown, nil, nil
		}
		if _, ok := ev.Target(); ok {
			return frameEvent, nil, &ev
		}
	}
	return frameUnknown, nil, nil
}

// decodeForwardData accepts both forward payload shapes: an object with a
// "messages" array, or a bare array of nodes.
func decodeForwardData(data json.RawMessage) ([]ForwardNode, error) {
	var wrapped struct {
		Messages []ForwardNode `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Messages != nil {
		return wrapped.Messages, nil
	}
	var nodes []ForwardNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// numeric string helper used by segment data fields that may arrive as numbers
func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
