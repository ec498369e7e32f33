package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/notify"
)

const (
	DraftsKey   = "record.drafts.v1"
	DraftsTopic = "record.drafts.changed"
)

// ErrIndexOutOfRange is returned for a draft index that does not exist.
var ErrIndexOutOfRange = errors.New("draft index out of range")

// DraftEntry is one saved resource, newest first.
type DraftEntry struct {
	Resource json.RawMessage `json:"resource"`
}

// Summary is the one-line description shown in the draft list.
type Summary struct {
	Index        int    `json:"index"`
	ID           string `json:"id,omitempty"`
	ResourceType string `json:"resourceType"`
	Subject      string `json:"subject,omitempty"`
	Codings      int    `json:"codings"`
}

// DraftStore is the local collection of saved conditions.
type DraftStore struct {
	store kv.Store
	bus   notify.Bus
	clock func() time.Time
	mu    sync.Mutex
}

// NewDraftStore creates a draft store over store. bus may be nil.
func NewDraftStore(store kv.Store, bus notify.Bus) *DraftStore {
	return &DraftStore{store: store, bus: bus, clock: time.Now}
}

// WithClock replaces the time source used for draft ids.
func (d *DraftStore) WithClock(clock func() time.Time) *DraftStore {
	d.clock = clock
	return d
}

// List returns the saved entries. Corrupt state reads as empty.
func (d *DraftStore) List(ctx context.Context) ([]DraftEntry, error) {
	raw, err := d.store.Get(ctx, DraftsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []DraftEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read drafts: %w", err)
	}
	var entries []DraftEntry
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return []DraftEntry{}, nil
	}
	return entries, nil
}

func (d *DraftStore) save(ctx context.Context, entries []DraftEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode drafts: %w", err)
	}
	if err := d.store.Set(ctx, DraftsKey, data); err != nil {
		return fmt.Errorf("write drafts: %w", err)
	}
	return nil
}

// Add assigns c an id of the form cond-<unix millis> and saves it at the front.
func (d *DraftStore) Add(ctx context.Context, c Condition) (Condition, error) {
	c.ID = fmt.Sprintf("cond-%d", d.clock().UnixMilli())
	raw, err := json.Marshal(c)
	if err != nil {
		return Condition{}, fmt.Errorf("encode condition: %w", err)
	}

	d.mu.Lock()
	entries, err := d.List(ctx)
	if err == nil {
		err = d.save(ctx, append([]DraftEntry{{Resource: raw}}, entries...))
	}
	d.mu.Unlock()
	if err != nil {
		return Condition{}, err
	}
	d.publish(ctx)
	return c, nil
}

// Get returns the condition saved at index.
func (d *DraftStore) Get(ctx context.Context, index int) (Condition, error) {
	entries, err := d.List(ctx)
	if err != nil {
		return Condition{}, err
	}
	if index < 0 || index >= len(entries) {
		return Condition{}, ErrIndexOutOfRange
	}
	var c Condition
	if err := json.Unmarshal(entries[index].Resource, &c); err != nil {
		return Condition{}, fmt.Errorf("decode draft %d: %w", index, err)
	}
	return c, nil
}

// Remove deletes the entry at index.
func (d *DraftStore) Remove(ctx context.Context, index int) error {
	d.mu.Lock()
	entries, err := d.List(ctx)
	if err == nil {
		if index < 0 || index >= len(entries) {
			err = ErrIndexOutOfRange
		} else {
			next := append(entries[:index:index], entries[index+1:]...)
			err = d.save(ctx, next)
		}
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.publish(ctx)
	return nil
}

// Clear removes every entry.
func (d *DraftStore) Clear(ctx context.Context) error {
	d.mu.Lock()
	err := d.save(ctx, []DraftEntry{})
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.publish(ctx)
	return nil
}

// Summaries describes each entry for the list view.
func (d *DraftStore) Summaries(ctx context.Context) ([]Summary, error) {
	entries, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(entries))
	for i, e := range entries {
		var c Condition
		_ = json.Unmarshal(e.Resource, &c)
		s := Summary{Index: i, ID: c.ID, ResourceType: c.ResourceType, Subject: c.Subject.Reference}
		if s.ResourceType == "" {
			s.ResourceType = "Unknown"
		}
		if c.Code != nil {
			s.Codings = len(c.Code.Coding)
		}
		out = append(out, s)
	}
	return out, nil
}

// ExportBundle wraps every entry in a collection Bundle.
func (d *DraftStore) ExportBundle(ctx context.Context) (*fhir.Bundle, error) {
	entries, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	resources := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		resources = append(resources, e.Resource)
	}
	return fhir.NewCollectionBundle(resources)
}

func (d *DraftStore) publish(ctx context.Context) {
	if d.bus != nil {
		_ = d.bus.Publish(ctx, DraftsTopic)
	}
}
