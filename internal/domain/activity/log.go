// Package activity keeps the workspace audit stream: a capped, newest-first
// list of human-readable events recorded by the other flows.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/auth"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/notify"
)

const (
	StorageKey  = "activity.v1"
	Topic       = "activity.changed"
	MaxEvents   = 1000
	DefaultUser = "You"
)

// TimestampLayout renders "YYYY-MM-DD hh:mm AM/PM".
const TimestampLayout = "2006-01-02 03:04 PM"

// IST is India Standard Time. A fixed zone avoids depending on tzdata.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Event is one audit entry.
type Event struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

// Recorder is what other flows need to write to the activity stream.
// Recording is best effort and never fails the caller.
type Recorder interface {
	Record(ctx context.Context, action, details string)
}

// Log is the persisted activity stream.
type Log struct {
	store  kv.Store
	bus    notify.Bus
	clock  func() time.Time
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewLog creates an activity log over store. bus may be nil.
func NewLog(store kv.Store, bus notify.Bus, logger zerolog.Logger) *Log {
	return &Log{
		store:  store,
		bus:    bus,
		clock:  time.Now,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// WithClock replaces the time source.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// FormatTimestamp renders t in IST.
func FormatTimestamp(t time.Time) string {
	return t.In(IST).Format(TimestampLayout)
}

// List returns events newest first. Unreadable state reads as empty.
func (l *Log) List(ctx context.Context) ([]Event, error) {
	raw, err := l.store.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil || events == nil {
		return []Event{}, nil
	}
	return events, nil
}

// Append prepends ev, filling in the timestamp and user when blank, and keeps
// at most MaxEvents entries.
func (l *Log) Append(ctx context.Context, ev Event) (Event, error) {
	if ev.Timestamp == "" {
		ev.Timestamp = FormatTimestamp(l.clock())
	}
	if strings.TrimSpace(ev.User) == "" {
		ev.User = DefaultUser
	}

	l.mu.Lock()
	events, err := l.List(ctx)
	if err != nil {
		l.mu.Unlock()
		return Event{}, err
	}
	events = append([]Event{ev}, events...)
	if len(events) > MaxEvents {
		events = events[:MaxEvents]
	}
	data, err := json.Marshal(events)
	if err == nil {
		err = l.store.Set(ctx, StorageKey, data)
	}
	l.mu.Unlock()
	if err != nil {
		return Event{}, fmt.Errorf("write activity: %w", err)
	}

	l.publish(ctx)
	return ev, nil
}

// Record appends an event attributed to the authenticated user.
func (l *Log) Record(ctx context.Context, action, details string) {
	ev := Event{User: auth.DisplayNameFromContext(ctx), Action: action, Details: details}
	if _, err := l.Append(ctx, ev); err != nil {
		l.logger.Warn().Err(err).Str("action", action).Msg("failed to record activity")
	}
}

// Clear removes every event.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	err := l.store.Delete(ctx, StorageKey)
	l.mu.Unlock()
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("clear activity: %w", err)
	}
	l.publish(ctx)
	return nil
}

// Subscribe registers fn for change notifications.
func (l *Log) Subscribe(fn func()) func() {
	if l.bus == nil {
		return func() {}
	}
	return l.bus.Subscribe(Topic, fn)
}

func (l *Log) publish(ctx context.Context) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(ctx, Topic); err != nil {
		l.logger.Warn().Err(err).Msg("failed to publish activity change")
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, string, string) {}
