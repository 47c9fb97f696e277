package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/fwlog/db"
	"github.com/onnwee/fwlog/onebot"
	"github.com/onnwee/fwlog/telemetry"
)

// threshold is the item-count boundary at which a reminder notice is sent.
const threshold = 1000

// handleForward captures forward-bundle contents referenced by the event into
// the session's current log. Events for idle or paused sessions, and events
// without forward references, are ignored.
func (h *Handler) handleForward(ctx context.Context, bot API, target onebot.Target, text string) error {
	sessionID := target.SessionID()
	if h.watch != nil {
		if _, ok := h.watch[sessionID]; !ok {
			return nil
		}
	}
	sess, err := h.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Recording || sess.CurrentLogName == "" {
		return nil
	}
	ids := onebot.ExtractForwardIDs(text)
	if len(ids) == 0 {
		return nil
	}
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "capture"),
		slog.String("bot", bot.Name()),
		slog.String("session", sessionID))
	log.Info("captured forward references", slog.Any("ids", ids))

	ctx, span := telemetry.StartSpan(ctx, "capture", "resolve_forwards")
	defer span.End()

	lg, err := h.store.GetOrCreateLog(ctx, sessionID, sess.CurrentLogName)
	if err != nil {
		return err
	}
	var items []db.Item
	for _, id := range ids {
		nodes, err := h.resolveForward(ctx, bot, id)
		if err != nil {
			// One unresolvable reference never fails the whole event.
			log.Warn("forward resolve failed", slog.String("id", id), slog.Any("err", err))
			continue
		}
		for i := range nodes {
			items = append(items, flattenNode(&nodes[i]))
		}
		log.Info("extracted forward bundle", slog.String("id", id), slog.Int("nodes", len(nodes)))
	}
	if len(items) == 0 {
		return nil
	}
	before, after, err := h.store.AppendItems(ctx, lg.ID, items)
	if err != nil {
		return fmt.Errorf("append %d items to %q: %w", len(items), lg.Name, err)
	}
	if telemetry.ItemsAppended != nil {
		telemetry.ItemsAppended.Add(float64(len(items)))
	}
	log.Info("appended items", slog.String("log", lg.Name), slog.Int("count", len(items)), slog.Int("total", after))

	// Edge-triggered: fires once per append that crosses a boundary, never
	// retroactively and never again for the same boundary.
	if after/threshold > before/threshold {
		h.reply(ctx, bot, target, fmt.Sprintf(
			"[notice] log %s now holds %d captured messages.\nWhen the import is complete, send .%s end to finish it.",
			lg.Name, after, h.keyword))
	}
	return nil
}

// resolveForward fetches a bundle by id, retrying once with the alternate
// request attribute name used by other endpoint implementations.
func (h *Handler) resolveForward(ctx context.Context, bot API, id string) ([]onebot.ForwardNode, error) {
	nodes, err := bot.GetForwardMessage(ctx, "id", id)
	if err == nil {
		return nodes, nil
	}
	telemetry.LoggerWithCorr(ctx).Debug("forward fetch with id failed, retrying with message_id",
		slog.String("component", "capture"), slog.Any("err", err))
	return bot.GetForwardMessage(ctx, "message_id", id)
}

// flattenNode converts one resolved bundle node to a log item.
func flattenNode(n *onebot.ForwardNode) db.Item {
	authorID := n.Sender.UserID.String()
	name := n.Sender.Nickname
	if name == "" {
		if authorID != "" {
			name = "QQ:" + authorID
		} else {
			name = "Unknown"
		}
	}
	ts := n.Time
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return db.Item{
		DisplayName: name,
		AuthorID:    authorID,
		Timestamp:   ts,
		Text:        n.Body().Flatten(),
		SourceRef:   n.MessageID.String(),
	}
}
