package onebot

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTimeout is returned when no response arrives within the call deadline.
var ErrTimeout = errors.New("onebot: api call timed out")

// ErrConnectionLost is returned when the owning connection drops while a call
// is outstanding, or when a call is issued with no connection established.
var ErrConnectionLost = errors.New("onebot: connection lost")

type callResult struct {
	resp *Response
	err  error
}

// correlator maps outstanding call tokens to their waiters. It is the only
// piece of in-memory state shared between the read loop and callers, so all
// access goes through the mutex. Result channels are buffered so a resolution
// racing a timed-out caller never blocks the read loop.
type correlator struct {
	mu      sync.Mutex
	waiters map[string]chan callResult
}

func newCorrelator() *correlator {
	return &correlator{waiters: make(map[string]chan callResult)}
}

// register creates a waiter under a fresh process-unique token. The token is
// never shared by two outstanding waiters.
func (c *correlator) register() (string, chan callResult) {
	token := uuid.NewString()
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.waiters[token] = ch
	c.mu.Unlock()
	return token, ch
}

// resolve delivers a matched response and frees the token. Unknown tokens
// (already timed out, duplicate responses) are a no-op.
func (c *correlator) resolve(token string, resp *Response) {
	c.mu.Lock()
	ch, ok := c.waiters[token]
	if ok {
		delete(c.waiters, token)
	}
	c.mu.Unlock()
	if ok {
		ch <- callResult{resp: resp}
	}
}

// drop removes a waiter without resolving it (caller gave up).
func (c *correlator) drop(token string) {
	c.mu.Lock()
	delete(c.waiters, token)
	c.mu.Unlock()
}

// failAll resolves every outstanding waiter with err. Called on connection
// teardown so no waiter is ever left to leak.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[string]chan callResult)
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- callResult{err: err}
	}
}
