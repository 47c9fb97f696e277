package capture

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onnwee/fwlog/onebot"
	"github.com/onnwee/fwlog/telemetry"
)

// Event is one queued (bot identity, platform event) pair.
type Event struct {
	Bot API
	Msg *onebot.MessageEvent
}

// Pipeline drains events in FIFO order with exactly one consumer. That single
// consumer is the system's serialization point: it guarantees at most one
// state-machine mutation is in flight at a time, across all sessions and bot
// identities, without per-session locks.
type Pipeline struct {
	queue   chan Event
	handler *Handler
}

// NewPipeline creates a pipeline with the given queue capacity.
func NewPipeline(handler *Handler, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pipeline{queue: make(chan Event, queueSize), handler: handler}
}

// Enqueue pushes an event without blocking. The caller is a connection read
// loop that must keep servicing frames, so a full queue drops the event with
// a log signal and a counter instead of applying backpressure.
func (p *Pipeline) Enqueue(ev Event) {
	select {
	case p.queue <- ev:
		telemetry.SetQueueDepth(len(p.queue))
	default:
		if telemetry.EventsDropped != nil {
			telemetry.EventsDropped.Inc()
		}
		slog.Warn("ingestion queue full, dropping event",
			slog.String("component", "pipeline"),
			slog.String("bot", ev.Bot.Name()),
			slog.String("message_id", ev.Msg.MessageID.String()))
	}
}

// Run consumes events until ctx is canceled. One event is processed to
// completion before the next is dequeued; a handler failure (or panic) is
// logged and the loop continues with the next event.
func (p *Pipeline) Run(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "pipeline"))
	log.Info("ingestion pipeline started", slog.Int("queue_capacity", cap(p.queue)))
	for {
		select {
		case <-ctx.Done():
			log.Info("ingestion pipeline stopped")
			return
		case ev := <-p.queue:
			telemetry.SetQueueDepth(len(p.queue))
			p.processOne(ctx, ev)
		}
	}
}

func (p *Pipeline) processOne(ctx context.Context, ev Event) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "process_event")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			if telemetry.EventsFailed != nil {
				telemetry.EventsFailed.Inc()
			}
			telemetry.LoggerWithCorr(ctx).Error("event handler panic",
				slog.String("component", "pipeline"), slog.Any("panic", r))
		}
	}()
	telemetry.TimeFunc(telemetry.EventDuration, func() {
		if err := p.handler.HandleEvent(ctx, ev.Bot, ev.Msg); err != nil {
			if telemetry.EventsFailed != nil {
				telemetry.EventsFailed.Inc()
			}
			telemetry.RecordError(span, err)
			telemetry.LoggerWithCorr(ctx).Error("event handling failed",
				slog.String("component", "pipeline"),
				slog.String("bot", ev.Bot.Name()),
				slog.Any("err", err))
			return
		}
		if telemetry.EventsProcessed != nil {
			telemetry.EventsProcessed.Inc()
		}
	})
}
