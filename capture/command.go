package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/fwlog/onebot"
	"github.com/onnwee/fwlog/telemetry"
)

// handleCommand parses the sub-command and runs the matching state machine
// transition, replying on the originating conversation. Unknown sub-commands
// (and a bare keyword) render the help text.
func (h *Handler) handleCommand(ctx context.Context, bot API, target onebot.Target, msg *onebot.MessageEvent, body string) error {
	sessionID := target.SessionID()
	sub, nameArg := "help", ""
	if body != "" {
		parts := strings.Fields(body)
		sub = strings.ToLower(parts[0])
		if len(parts) > 1 {
			nameArg = parts[1]
		}
	}
	telemetry.LoggerWithCorr(ctx).Info("command",
		slog.String("component", "command"),
		slog.String("bot", bot.Name()),
		slog.String("session", sessionID),
		slog.String("sub", sub),
		slog.String("name", nameArg))
	if telemetry.CommandsHandled != nil {
		telemetry.CommandsHandled.Inc()
	}

	userName := msg.Sender.DisplayName()
	if userName == "" {
		userName = msg.UserID.String()
	}

	switch sub {
	case "new":
		name, err := h.rec.New(ctx, sessionID, nameArg)
		if err != nil {
			return err
		}
		h.reply(ctx, bot, target, fmt.Sprintf(
			"[new] %s created log %q\n"+
				"Recording is ON. Send a forwarded message bundle to capture its contents.\n"+
				"Note: only forward bundles are captured; live messages are not recorded.",
			userName, name))
	case "on":
		name, err := h.rec.Continue(ctx, sessionID, nameArg)
		switch {
		case errors.Is(err, ErrNoCurrentLog):
			h.reply(ctx, bot, target, fmt.Sprintf("No log selected. Create one first with .%s new <name>", h.keyword))
		case errors.Is(err, ErrNoSuchLog):
			h.reply(ctx, bot, target, "Log does not exist: "+nameArg)
		case err != nil:
			return err
		default:
			h.reply(ctx, bot, target, fmt.Sprintf(
				"[continue] %s resumed log %q\nSend a forwarded message bundle to capture its contents.",
				userName, name))
		}
	case "off":
		paused, err := h.rec.Pause(ctx, sessionID)
		if err != nil {
			return err
		}
		if !paused {
			h.reply(ctx, bot, target, "Not currently recording.")
		} else {
			h.reply(ctx, bot, target, "[paused] recording paused for the current log")
		}
	case "end":
		name, err := h.rec.End(ctx, sessionID, nameArg, func(name, text string) error {
			return h.sendLogFile(ctx, bot, target, name, text)
		})
		switch {
		case errors.Is(err, ErrNoSuchLog):
			h.reply(ctx, bot, target, "Log does not exist.")
		case errors.Is(err, ErrEmptyLog):
			h.reply(ctx, bot, target, "Log is empty: "+name)
		case err != nil:
			h.reply(ctx, bot, target, "[failed] could not send log file: "+err.Error())
		default:
			h.reply(ctx, bot, target, fmt.Sprintf("[done] log %q sent and closed", name))
		}
	case "get":
		name, text, err := h.rec.Export(ctx, sessionID, nameArg)
		switch {
		case errors.Is(err, ErrNoSuchLog):
			h.reply(ctx, bot, target, "Log does not exist.")
		case errors.Is(err, ErrEmptyLog):
			h.reply(ctx, bot, target, "Log is empty: "+name)
		case err != nil:
			return err
		default:
			if err := h.sendLogFile(ctx, bot, target, name, text); err != nil {
				h.reply(ctx, bot, target, "[failed] could not send log file: "+err.Error())
			}
		}
	case "list":
		sess, logs, err := h.rec.List(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			h.reply(ctx, bot, target, "This conversation has no capture logs.")
			return nil
		}
		lines := []string{"[logs] capture logs for this conversation:"}
		for _, l := range logs {
			status := "  [paused]"
			switch {
			case sess.CurrentLogName == l.Name && sess.Recording:
				status = "* [recording]"
			case l.Ended:
				status = "  [ended]"
			}
			created := time.UnixMilli(l.CreatedAt).Format("2006-01-02 15:04")
			lines = append(lines, fmt.Sprintf("- %s %s (%d items, created %s)", status, l.Name, l.ItemCount, created))
		}
		h.reply(ctx, bot, target, strings.Join(lines, "\n"))
	case "clear":
		name, err := h.rec.Clear(ctx, sessionID, nameArg)
		switch {
		case errors.Is(err, ErrNoSuchLog):
			h.reply(ctx, bot, target, "Log does not exist.")
		case err != nil:
			return err
		default:
			h.reply(ctx, bot, target, fmt.Sprintf("[cleared] log %q removed", name))
		}
	default:
		h.reply(ctx, bot, target, h.helpText())
	}
	return nil
}

// sendLogFile uploads the rendered log as <name>.txt, falling back to an
// inline bracketed file message when the endpoint does not support uploads.
func (h *Handler) sendLogFile(ctx context.Context, bot API, target onebot.Target, name, text string) error {
	payload := "base64://" + base64.StdEncoding.EncodeToString([]byte(text))
	filename := name + ".txt"
	if err := bot.UploadFile(ctx, target, payload, filename); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("file upload failed, sending inline file message",
			slog.String("component", "command"), slog.Any("err", err))
		return bot.SendMessage(ctx, target, "[CQ:file,file="+payload+",name="+filename+"]")
	}
	return nil
}

// reply sends a notice to the originating conversation; a failed notice is
// only logged, never escalated.
func (h *Handler) reply(ctx context.Context, bot API, target onebot.Target, text string) {
	if err := bot.SendMessage(ctx, target, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to send reply",
			slog.String("component", "command"),
			slog.String("bot", bot.Name()),
			slog.String("session", target.ID),
			slog.Any("err", err))
	}
}

func (h *Handler) helpText() string {
	k := h.keyword
	return strings.Join([]string{
		"[" + k + "] forward bundle capture tool",
		"Converts forwarded message bundles into flat chat-log files.",
		"Only forward bundles are parsed; live messages are not recorded.",
		"",
		"Commands:",
		"." + k + " new [name]   create a log and start recording",
		"." + k + " on [name]    continue recording an existing log",
		"." + k + " off          pause recording",
		"." + k + " end [name]   finish the log and send the file",
		"." + k + " get [name]   fetch the log file without finishing",
		"." + k + " list         list this conversation's logs",
		"." + k + " clear [name] delete a log",
	}, "\n")
}
