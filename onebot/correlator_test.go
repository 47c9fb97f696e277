package onebot

import (
	"errors"
	"testing"
)

func TestCorrelatorResolveMatchesWaiter(t *testing.T) {
	c := newCorrelator()
	token, ch := c.register()

	c.resolve(token, &Response{Echo: token, Status: "ok"})
	res := <-ch
	if res.err != nil {
		t.Fatalf("unexpected err: %v", res.err)
	}
	if res.resp.Status != "ok" {
		t.Errorf("status = %q", res.resp.Status)
	}
}

func TestCorrelatorTokensUnique(t *testing.T) {
	c := newCorrelator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, _ := c.register()
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

// A resolve arriving after the caller gave up (timeout path) must be a silent
// no-op: no panic, no stale delivery.
func TestCorrelatorLateResolveIsNoOp(t *testing.T) {
	c := newCorrelator()
	token, ch := c.register()
	c.drop(token) // caller timed out and removed its waiter

	c.resolve(token, &Response{Echo: token, Status: "ok"})
	select {
	case res := <-ch:
		t.Fatalf("dropped waiter received %+v", res)
	default:
	}
	// And resolving a token that never existed is equally harmless.
	c.resolve("never-registered", &Response{Status: "ok"})
}

func TestCorrelatorFailAll(t *testing.T) {
	c := newCorrelator()
	_, ch1 := c.register()
	_, ch2 := c.register()

	c.failAll(ErrConnectionLost)
	for i, ch := range []chan callResult{ch1, ch2} {
		res := <-ch
		if !errors.Is(res.err, ErrConnectionLost) {
			t.Errorf("waiter %d: err = %v, want ErrConnectionLost", i, res.err)
		}
	}
	// The table must be empty afterwards; a stray resolve cannot reach freed
	// waiters.
	c.mu.Lock()
	n := len(c.waiters)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("%d waiters left after failAll", n)
	}
}
