package capture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/onnwee/fwlog/db"
	"github.com/onnwee/fwlog/onebot"
)

// memStore is an in-memory Store with the same semantics as the Postgres
// implementation, including ErrNotFound on missing rows. The mutex only
// matters for the pipeline tests, which poll state from the test goroutine
// while the consumer goroutine mutates it.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*db.Session
	logs     []*db.Log
	nextID   int64
	failNext error // returned by the next mutating call, then cleared
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*db.Session)}
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// sessionSnapshot reads a session copy under the lock; false when absent.
func (m *memStore) sessionSnapshot(sessionID string) (db.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return db.Session{}, false
	}
	return *s, true
}

// hasLog reports log existence under the lock.
func (m *memStore) hasLog(sessionID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLog(sessionID, name) != nil
}

func (m *memStore) GetOrCreateSession(ctx context.Context, sessionID string) (*db.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	s := &db.Session{ID: sessionID}
	m.sessions[sessionID] = s
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateSession(ctx context.Context, sessionID string, upd db.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return db.ErrNotFound
	}
	if upd.CurrentLogName != nil {
		s.CurrentLogName = *upd.CurrentLogName
	}
	if upd.Recording != nil {
		s.Recording = *upd.Recording
	}
	return nil
}

func (m *memStore) findLog(sessionID, name string) *db.Log {
	for _, l := range m.logs {
		if l.SessionID == sessionID && l.Name == name {
			return l
		}
	}
	return nil
}

func (m *memStore) GetOrCreateLog(ctx context.Context, sessionID, name string) (*db.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.findLog(sessionID, name); l != nil {
		cp := *l
		return &cp, nil
	}
	m.nextID++
	l := &db.Log{ID: m.nextID, SessionID: sessionID, Name: name, CreatedAt: m.nextID}
	m.logs = append(m.logs, l)
	cp := *l
	return &cp, nil
}

func (m *memStore) logByID(id int64) *db.Log {
	for _, l := range m.logs {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *memStore) UpdateLog(ctx context.Context, logID int64, upd db.LogUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	l := m.logByID(logID)
	if l == nil {
		return db.ErrNotFound
	}
	if upd.Ended != nil {
		l.Ended = *upd.Ended
	}
	if upd.CreatedAt != nil {
		l.CreatedAt = *upd.CreatedAt
	}
	return nil
}

func (m *memStore) ClearItems(ctx context.Context, logID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.logByID(logID)
	if l == nil {
		return db.ErrNotFound
	}
	l.Items = nil
	return nil
}

func (m *memStore) AppendItems(ctx context.Context, logID int64, items []db.Item) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, 0, err
	}
	l := m.logByID(logID)
	if l == nil {
		return 0, 0, fmt.Errorf("log %d: %w", logID, db.ErrNotFound)
	}
	before := len(l.Items)
	l.Items = append(l.Items, items...)
	return before, len(l.Items), nil
}

func (m *memStore) ReadLog(ctx context.Context, sessionID, name string) (*db.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLog(sessionID, name)
	if l == nil {
		return nil, db.ErrNotFound
	}
	cp := *l
	cp.Items = append([]db.Item(nil), l.Items...)
	return &cp, nil
}

func (m *memStore) ListLogs(ctx context.Context, sessionID string) ([]db.LogSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.LogSummary
	for _, l := range m.logs {
		if l.SessionID != sessionID {
			continue
		}
		out = append(out, db.LogSummary{ID: l.ID, Name: l.Name, Ended: l.Ended, CreatedAt: l.CreatedAt, ItemCount: len(l.Items)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) ClearLog(ctx context.Context, sessionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.logs {
		if l.SessionID == sessionID && l.Name == name {
			m.logs = append(m.logs[:i], m.logs[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

// fakeBot records outbound traffic and serves canned forward bundles, keyed
// by "<param>:<id>" so tests can distinguish the two fetch attribute names.
type fakeBot struct {
	name      string
	sent      []string
	uploads   []fakeUpload
	forwards  map[string][]onebot.ForwardNode
	sendErr   error
	uploadErr error
}

type fakeUpload struct {
	param string
	name  string
}

func newFakeBot() *fakeBot {
	return &fakeBot{name: "testbot", forwards: make(map[string][]onebot.ForwardNode)}
}

func (b *fakeBot) Name() string { return b.name }

func (b *fakeBot) SendMessage(ctx context.Context, t onebot.Target, text string) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, text)
	return nil
}

func (b *fakeBot) GetForwardMessage(ctx context.Context, paramName, id string) ([]onebot.ForwardNode, error) {
	nodes, ok := b.forwards[paramName+":"+id]
	if !ok {
		return nil, errors.New("forward bundle not found")
	}
	return nodes, nil
}

func (b *fakeBot) UploadFile(ctx context.Context, t onebot.Target, fileParam, name string) error {
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.uploads = append(b.uploads, fakeUpload{param: fileParam, name: name})
	return nil
}

func textNode(author, authorID string, ts int64, text string) onebot.ForwardNode {
	return onebot.ForwardNode{
		Sender:  onebot.Sender{UserID: onebot.StringID(authorID), Nickname: author},
		Time:    ts,
		Message: onebot.Message{{Type: "text", Data: map[string]any{"text": text}}},
	}
}

func groupEvent(groupID, userID, text string) *onebot.MessageEvent {
	return &onebot.MessageEvent{
		PostType:    "message",
		MessageType: "group",
		GroupID:     onebot.StringID(groupID),
		UserID:      onebot.StringID(userID),
		Sender:      onebot.Sender{UserID: onebot.StringID(userID), Nickname: "user-" + userID},
		Message:     onebot.Message{{Type: "text", Data: map[string]any{"text": text}}},
	}
}
