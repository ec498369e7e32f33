// Package latest implements last-request-wins bookkeeping for slow outbound
// calls: each issue gets a monotonically increasing token, and a result is only
// applied if its token is still the newest one issued for the same key.
package latest

import (
	"context"
	"sync"
	"time"
)

// Token identifies one issued request.
type Token uint64

// Tracker hands out tokens per key (typically a client or view id).
type Tracker struct {
	mu     sync.Mutex
	next   Token
	latest map[string]Token
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[string]Token)}
}

// Issue records a fresh request for key and returns its token. Any token issued
// earlier for the same key becomes stale.
func (t *Tracker) Issue(key string) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.latest[key] = t.next
	return t.next
}

// Current reports whether tok is still the newest token for key.
func (t *Tracker) Current(key string, tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[key] == tok
}

// Done forgets key if tok is still its newest token, so idle keys do not
// accumulate.
func (t *Tracker) Done(key string, tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest[key] == tok {
		delete(t.latest, key)
	}
}

// Settle waits for a quiet period and reports whether tok is still current
// afterwards. Rapid repeated issues for one key therefore collapse into a
// single caller that proceeds. A cancelled ctx returns false.
func (t *Tracker) Settle(ctx context.Context, key string, tok Token, quiet time.Duration) bool {
	if quiet > 0 {
		timer := time.NewTimer(quiet)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return t.Current(key, tok)
}
