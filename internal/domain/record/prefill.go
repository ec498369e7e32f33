// Package record builds dual-coded Condition resources from mapped codes and
// keeps the local draft bundle they are saved to.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/notify"
)

const (
	PrefillKey   = "record.prefill.v1"
	PrefillTopic = "record.prefill.changed"
)

// Prefill is the one-shot handoff from the mapping flow to the record builder.
type Prefill struct {
	Namaste string `json:"namaste"`
	TM2     string `json:"tm2"`
	Biomed  string `json:"biomed"`
}

// Empty reports whether no code is set.
func (p Prefill) Empty() bool {
	return p.Namaste == "" && p.TM2 == "" && p.Biomed == ""
}

// CodeRef identifies one side of a mapping.
type CodeRef struct {
	System string
	Code   string
}

// PrefillFor picks the NAMASTE, TM2 and BIO* codes out of a mapping's two
// sides. When the mapping was made from NAMASTE the source code is always the
// NAMASTE code.
func PrefillFor(fromSystem string, source, dest CodeRef) Prefill {
	var p Prefill
	switch {
	case strings.EqualFold(fromSystem, "NAMASTE"), strings.EqualFold(source.System, "NAMASTE"):
		p.Namaste = source.Code
	case strings.EqualFold(dest.System, "NAMASTE"):
		p.Namaste = dest.Code
	}
	switch {
	case dest.System == "TM2":
		p.TM2 = dest.Code
	case source.System == "TM2":
		p.TM2 = source.Code
	}
	switch {
	case strings.HasPrefix(strings.ToUpper(dest.System), "BIO"):
		p.Biomed = dest.Code
	case strings.HasPrefix(strings.ToUpper(source.System), "BIO"):
		p.Biomed = source.Code
	}
	return p
}

// Mailbox holds at most one Prefill. Put overwrites; Take reads and clears.
type Mailbox struct {
	store kv.Store
	bus   notify.Bus
	mu    sync.Mutex
}

// NewMailbox creates a mailbox over store. bus may be nil.
func NewMailbox(store kv.Store, bus notify.Bus) *Mailbox {
	return &Mailbox{store: store, bus: bus}
}

// Put replaces the pending prefill.
func (m *Mailbox) Put(ctx context.Context, p Prefill) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prefill: %w", err)
	}
	m.mu.Lock()
	err = m.store.Set(ctx, PrefillKey, data)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write prefill: %w", err)
	}
	m.publish(ctx)
	return nil
}

func (m *Mailbox) read(ctx context.Context) (Prefill, bool, error) {
	raw, err := m.store.Get(ctx, PrefillKey)
	if errors.Is(err, kv.ErrNotFound) {
		return Prefill{}, false, nil
	}
	if err != nil {
		return Prefill{}, false, fmt.Errorf("read prefill: %w", err)
	}
	var p Prefill
	if err := json.Unmarshal(raw, &p); err != nil {
		return Prefill{}, false, nil
	}
	return p, true, nil
}

// Peek returns the pending prefill without consuming it.
func (m *Mailbox) Peek(ctx context.Context) (Prefill, bool, error) {
	p, ok, err := m.read(ctx)
	return p, ok && !p.Empty(), err
}

// Take returns the pending prefill and deletes it. An unreadable value is
// deleted and reported as absent.
func (m *Mailbox) Take(ctx context.Context) (Prefill, bool, error) {
	m.mu.Lock()
	p, ok, err := m.read(ctx)
	if err != nil {
		m.mu.Unlock()
		return Prefill{}, false, err
	}
	err = m.store.Delete(ctx, PrefillKey)
	m.mu.Unlock()
	if err != nil {
		return Prefill{}, false, fmt.Errorf("clear prefill: %w", err)
	}
	m.publish(ctx)
	return p, ok && !p.Empty(), nil
}

func (m *Mailbox) publish(ctx context.Context) {
	if m.bus != nil {
		_ = m.bus.Publish(ctx, PrefillTopic)
	}
}
