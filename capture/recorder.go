package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/fwlog/db"
)

// Recorder drives the per-session recording state machine. A session is in
// one of three states: idle (no bound log), recording (bound, recording=true)
// or paused (bound, recording=false). Every transition is persisted before it
// is reported to the user, and no state is terminal.
type Recorder struct {
	store Store
}

// NewRecorder wraps a store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func boolp(b bool) *bool    { return &b }
func strp(s string) *string { return &s }
func int64p(v int64) *int64 { return &v }

// DefaultLogName derives a log name from the wall clock, matching the shape
// log-YYYYMMDD-HHMMSS.
func DefaultLogName(t time.Time) string {
	return t.Format("log-20060102-150405")
}

// New (re)creates the named log, dropping any prior items under that name,
// and binds the session to it in the recording state. An empty name gets a
// timestamp-derived default. Returns the effective name.
func (r *Recorder) New(ctx context.Context, sessionID, name string) (string, error) {
	if name == "" {
		name = DefaultLogName(time.Now())
	}
	if _, err := r.store.GetOrCreateSession(ctx, sessionID); err != nil {
		return "", err
	}
	lg, err := r.store.GetOrCreateLog(ctx, sessionID, name)
	if err != nil {
		return "", err
	}
	if err := r.store.ClearItems(ctx, lg.ID); err != nil {
		return "", err
	}
	// Reusing a name restarts the log, including its creation time.
	now := time.Now().UnixMilli()
	if err := r.store.UpdateLog(ctx, lg.ID, db.LogUpdate{Ended: boolp(false), CreatedAt: int64p(now)}); err != nil {
		return "", err
	}
	if err := r.store.UpdateSession(ctx, sessionID, db.SessionUpdate{CurrentLogName: strp(name), Recording: boolp(true)}); err != nil {
		return "", err
	}
	return name, nil
}

// Continue resumes recording into an existing log. An empty name defaults to
// the session's current binding; ErrNoCurrentLog if there is none,
// ErrNoSuchLog if the named log does not exist.
func (r *Recorder) Continue(ctx context.Context, sessionID, name string) (string, error) {
	sess, err := r.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = sess.CurrentLogName
	}
	if name == "" {
		return "", ErrNoCurrentLog
	}
	lg, err := r.store.ReadLog(ctx, sessionID, name)
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("%q: %w", name, ErrNoSuchLog)
	}
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateLog(ctx, lg.ID, db.LogUpdate{Ended: boolp(false)}); err != nil {
		return "", err
	}
	if err := r.store.UpdateSession(ctx, sessionID, db.SessionUpdate{CurrentLogName: strp(name), Recording: boolp(true)}); err != nil {
		return "", err
	}
	return name, nil
}

// Pause stops recording without unbinding the current log. Returns false if
// the session was not recording (caller surfaces a notice instead).
func (r *Recorder) Pause(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !sess.Recording {
		return false, nil
	}
	if err := r.store.UpdateSession(ctx, sessionID, db.SessionUpdate{Recording: boolp(false)}); err != nil {
		return false, err
	}
	return true, nil
}

// Export resolves the log (empty name defaults to the current binding) and
// renders it to flat text without mutating any state. Returns the effective
// name and the rendered text.
func (r *Recorder) Export(ctx context.Context, sessionID, name string) (string, string, error) {
	sess, err := r.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	if name == "" {
		name = sess.CurrentLogName
	}
	lg, err := r.store.ReadLog(ctx, sessionID, name)
	if errors.Is(err, db.ErrNotFound) {
		return name, "", fmt.Errorf("%q: %w", name, ErrNoSuchLog)
	}
	if err != nil {
		return name, "", err
	}
	if len(lg.Items) == 0 {
		return name, "", fmt.Errorf("%q: %w", name, ErrEmptyLog)
	}
	return name, RenderLog(lg.Items), nil
}

// End exports the log via the send callback and, only if that succeeds, marks
// the log ended and the session idle. A failed export leaves all state
// unchanged so end can be retried.
func (r *Recorder) End(ctx context.Context, sessionID, name string, send func(name, text string) error) (string, error) {
	name, text, err := r.Export(ctx, sessionID, name)
	if err != nil {
		return name, err
	}
	if err := send(name, text); err != nil {
		return name, err
	}
	lg, err := r.store.ReadLog(ctx, sessionID, name)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateLog(ctx, lg.ID, db.LogUpdate{Ended: boolp(true)}); err != nil {
		return "", err
	}
	if err := r.store.UpdateSession(ctx, sessionID, db.SessionUpdate{Recording: boolp(false)}); err != nil {
		return "", err
	}
	return name, nil
}

// Clear deletes the named log and its items (empty name defaults to the
// current binding). If the cleared log was the session's current binding, the
// binding resets to idle. Returns the effective name.
func (r *Recorder) Clear(ctx context.Context, sessionID, name string) (string, error) {
	sess, err := r.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = sess.CurrentLogName
	}
	err = r.store.ClearLog(ctx, sessionID, name)
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("%q: %w", name, ErrNoSuchLog)
	}
	if err != nil {
		return "", err
	}
	if sess.CurrentLogName == name {
		if err := r.store.UpdateSession(ctx, sessionID, db.SessionUpdate{CurrentLogName: strp(""), Recording: boolp(false)}); err != nil {
			return "", err
		}
	}
	return name, nil
}

// List returns the session state plus summaries of all its logs, newest
// first.
func (r *Recorder) List(ctx context.Context, sessionID string) (*db.Session, []db.LogSummary, error) {
	sess, err := r.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	logs, err := r.store.ListLogs(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, logs, nil
}
