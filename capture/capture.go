// Package capture implements the recording workflow: the single-consumer
// event ingestion pipeline, the per-session recording state machine, the
// forward-bundle capture handler, and the control command surface.
package capture

import (
	"context"
	"errors"

	"github.com/onnwee/fwlog/db"
	"github.com/onnwee/fwlog/onebot"
)

var (
	// ErrNoSuchLog is returned when a referenced log does not exist.
	ErrNoSuchLog = errors.New("no such log")
	// ErrEmptyLog is returned when export is attempted on a log with no items.
	ErrEmptyLog = errors.New("log is empty")
	// ErrNoCurrentLog is returned when a command needs the session's bound log
	// but no log is currently selected.
	ErrNoCurrentLog = errors.New("no log currently selected")
)

// Store is the durable persistence surface the capture workflow requires.
// *db.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetOrCreateSession(ctx context.Context, sessionID string) (*db.Session, error)
	UpdateSession(ctx context.Context, sessionID string, upd db.SessionUpdate) error
	GetOrCreateLog(ctx context.Context, sessionID, name string) (*db.Log, error)
	UpdateLog(ctx context.Context, logID int64, upd db.LogUpdate) error
	ClearItems(ctx context.Context, logID int64) error
	AppendItems(ctx context.Context, logID int64, items []db.Item) (before, after int, err error)
	ReadLog(ctx context.Context, sessionID, name string) (*db.Log, error)
	ListLogs(ctx context.Context, sessionID string) ([]db.LogSummary, error)
	ClearLog(ctx context.Context, sessionID, name string) error
}

// API is the slice of the bot client the handlers call. *onebot.Client
// satisfies it.
type API interface {
	Name() string
	SendMessage(ctx context.Context, t onebot.Target, text string) error
	GetForwardMessage(ctx context.Context, paramName, id string) ([]onebot.ForwardNode, error)
	UploadFile(ctx context.Context, t onebot.Target, fileParam, name string) error
}
