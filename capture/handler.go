package capture

import (
	"context"
	"strings"
	"unicode"

	"github.com/onnwee/fwlog/onebot"
)

// commandMarkers are the leading punctuation variants accepted before the
// command keyword. The keyword without a marker is deliberately not a
// command, so ordinary chatter mentioning it is left alone.
var commandMarkers = []string{".", "。", "/", "、"}

// HandlerConfig configures event dispatch.
type HandlerConfig struct {
	// Keyword is the command keyword (default "fwlog"); commands look like
	// ".fwlog new mylog".
	Keyword string
	// WatchSessions optionally restricts capture to an allow-list of session
	// ids ("group:<id>" or "private:<id>"). Empty means all sessions.
	WatchSessions []string
}

// Handler classifies each ingested event as either a control command or a
// capture candidate and dispatches it. It runs exclusively on the pipeline's
// single consumer goroutine.
type Handler struct {
	store   Store
	rec     *Recorder
	keyword string
	watch   map[string]struct{}
}

// NewHandler builds a handler over the store.
func NewHandler(store Store, cfg HandlerConfig) *Handler {
	if cfg.Keyword == "" {
		cfg.Keyword = "fwlog"
	}
	var watch map[string]struct{}
	if len(cfg.WatchSessions) > 0 {
		watch = make(map[string]struct{}, len(cfg.WatchSessions))
		for _, s := range cfg.WatchSessions {
			watch[s] = struct{}{}
		}
	}
	return &Handler{
		store:   store,
		rec:     NewRecorder(store),
		keyword: cfg.Keyword,
		watch:   watch,
	}
}

// HandleEvent processes one platform event to completion: command dispatch or
// forward capture, mutually exclusive per event.
func (h *Handler) HandleEvent(ctx context.Context, bot API, msg *onebot.MessageEvent) error {
	target, ok := msg.Target()
	if !ok {
		return nil
	}
	text := strings.TrimSpace(msg.Message.Flatten())
	// A leading mention of the bot itself is stripped before command
	// normalization so "@bot .fwlog list" works.
	if self := msg.SelfID.String(); self != "" {
		mention := "[CQ:at,qq=" + self + "]"
		if strings.HasPrefix(text, mention) {
			text = strings.TrimSpace(strings.TrimPrefix(text, mention))
		}
	}
	if body, isCmd := h.parseCommand(text); isCmd {
		return h.handleCommand(ctx, bot, target, msg, body)
	}
	return h.handleForward(ctx, bot, target, text)
}

// parseCommand reports whether text is a control command and returns the
// command body (everything after the keyword, whitespace-normalized).
func (h *Handler) parseCommand(text string) (string, bool) {
	t := strings.TrimLeftFunc(text, unicode.IsSpace)
	marker := false
	for _, m := range commandMarkers {
		if strings.HasPrefix(t, m) {
			t = strings.TrimLeftFunc(t[len(m):], unicode.IsSpace)
			marker = true
			break
		}
	}
	if !marker {
		return "", false
	}
	if len(t) < len(h.keyword) || !strings.EqualFold(t[:len(h.keyword)], h.keyword) {
		return "", false
	}
	body := strings.ReplaceAll(t[len(h.keyword):], "　", " ")
	return strings.TrimSpace(body), true
}
