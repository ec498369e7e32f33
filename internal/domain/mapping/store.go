// Package mapping owns the ledger of approved code mappings.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/notify"
)

const (
	// StorageKey holds the JSON array of mappings, newest first.
	StorageKey = "mappings.v1"
	// Topic is published after every change to the ledger.
	Topic = "mappings.changed"
)

// Store is the mapping ledger. The persisted value is the only source of
// truth: every read decodes it again.
type Store struct {
	kv     kv.Store
	bus    notify.Bus
	clock  func() time.Time
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewStore creates a ledger over store. bus may be nil.
func NewStore(store kv.Store, bus notify.Bus, logger zerolog.Logger) *Store {
	return &Store{
		kv:     store,
		bus:    bus,
		clock:  time.Now,
		logger: logger.With().Str("component", "mapping-store").Logger(),
	}
}

// WithClock replaces the time source.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// List returns all mappings, most recently approved first. Corrupt or
// non-array persisted state reads as empty.
func (s *Store) List(ctx context.Context) ([]Mapping, error) {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	var list []Mapping
	if err := json.Unmarshal(raw, &list); err != nil || list == nil {
		if err != nil {
			s.logger.Warn().Err(err).Msg("persisted mappings unreadable, treating as empty")
		}
		return []Mapping{}, nil
	}
	return list, nil
}

// Get returns the mapping with id.
func (s *Store) Get(ctx context.Context, id string) (*Mapping, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) save(ctx context.Context, list []Mapping) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("write mappings: %w", err)
	}
	return nil
}

func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}

// Approve stores the mapping source -> dest, replacing any earlier record with
// the same id and moving it to the front. The ledger is persisted before
// Approve returns.
func (s *Store) Approve(ctx context.Context, source, dest Snapshot, fromSystem string, score float64) (*Mapping, error) {
	m := Mapping{
		ID:         MappingID(source, dest),
		FromSystem: fromSystem,
		Source:     source,
		Dest:       dest,
		Score:      roundScore(score),
		CreatedAt:  s.clock().UTC(),
	}

	s.mu.Lock()
	list, err := s.List(ctx)
	if err == nil {
		next := make([]Mapping, 0, len(list)+1)
		next = append(next, m)
		for _, x := range list {
			if x.ID != m.ID {
				next = append(next, x)
			}
		}
		err = s.save(ctx, next)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("mapping_id", m.ID).Float64("score", m.Score).Msg("mapping approved")
	s.publish(ctx)
	return &m, nil
}

// Remove deletes the mapping with id. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	list, err := s.List(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	next := make([]Mapping, 0, len(list))
	for _, x := range list {
		if x.ID != id {
			next = append(next, x)
		}
	}
	removed := len(next) != len(list)
	if removed {
		err = s.save(ctx, next)
	}
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.Info().Str("mapping_id", id).Msg("mapping removed")
		s.publish(ctx)
	}
	return removed, nil
}

// Pair is one mapping to bulk-insert.
type Pair struct {
	FromSystem string
	Source     Snapshot
	Dest       Snapshot
	Score      float64
}

// Import inserts pairs whose id is not already in the ledger. Existing records
// are left untouched. New records go in front, the last pair first, and share
// one timestamp. The ledger is written and published once, and only when
// something was added.
func (s *Store) Import(ctx context.Context, pairs []Pair) (int, error) {
	now := s.clock().UTC()

	s.mu.Lock()
	list, err := s.List(ctx)
	var fresh []Mapping
	if err == nil {
		have := make(map[string]bool, len(list)+len(pairs))
		for _, m := range list {
			have[m.ID] = true
		}
		for _, p := range pairs {
			id := MappingID(p.Source, p.Dest)
			if have[id] {
				continue
			}
			have[id] = true
			fresh = append(fresh, Mapping{
				ID:         id,
				FromSystem: p.FromSystem,
				Source:     p.Source,
				Dest:       p.Dest,
				Score:      roundScore(p.Score),
				CreatedAt:  now,
			})
		}
		if len(fresh) > 0 {
			next := make([]Mapping, 0, len(list)+len(fresh))
			for i := len(fresh) - 1; i >= 0; i-- {
				next = append(next, fresh[i])
			}
			err = s.save(ctx, append(next, list...))
		}
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if len(fresh) > 0 {
		s.logger.Info().Int("added", len(fresh)).Int("offered", len(pairs)).Msg("mappings imported")
		s.publish(ctx)
	}
	return len(fresh), nil
}

// ExportAll returns the ledger as a pretty-printed JSON array.
func (s *Store) ExportAll(ctx context.Context) ([]byte, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return data, nil
}

// Subscribe registers fn for change notifications and returns the
// unsubscribe function.
func (s *Store) Subscribe(fn func()) func() {
	if s.bus == nil {
		return func() {}
	}
	return s.bus.Subscribe(Topic, fn)
}

// MappedSources reports which catalog entries are the source of at least one
// approved mapping, keyed by catalog.MappedKey.
func (s *Store) MappedSources(ctx context.Context) (map[string]bool, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(list))
	for _, m := range list {
		out[catalog.MappedKey(m.Source.System, m.Source.Code)] = true
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, Topic); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish mapping change")
	}
}
