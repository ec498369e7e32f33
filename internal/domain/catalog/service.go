package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned when a code is not in the catalog.
	ErrNotFound = errors.New("code not found")
	// ErrInvalidRef is returned when a lookup lacks a system or code.
	ErrInvalidRef = errors.New("system and code are required")
)

// ReloadTimeout bounds one dataset reload.
const ReloadTimeout = 2 * time.Minute

// MappedIndex reports which source entries have at least one approved mapping.
// Keys are built with MappedKey.
type MappedIndex interface {
	MappedSources(ctx context.Context) (map[string]bool, error)
}

// MappedKey is the lookup key shared by the catalog and the mapping ledger.
func MappedKey(system, code string) string {
	return NormalizeSystem(system) + ":" + strings.ToLower(strings.TrimSpace(code))
}

// Stats summarises the loaded catalog.
type Stats struct {
	Total    int            `json:"total"`
	BySystem map[string]int `json:"by_system"`
	Mapped   int            `json:"mapped"`
	Rejected int            `json:"rejected"`
	Source   string         `json:"source,omitempty"`
	Warning  string         `json:"warning,omitempty"`
}

// Service serves the current catalog. Reload swaps the whole catalog
// atomically, so readers never observe a half-loaded dataset. A reload that
// falls back to an empty catalog never replaces a populated one.
type Service struct {
	loader  *Loader
	mapped  MappedIndex
	current atomic.Pointer[LoadResult]
	reloads singleflight.Group
	logger  zerolog.Logger

	mu       sync.Mutex // serializes swaps of current
	uploaded []CodeEntry
}

// NewService creates a catalog service. The catalog starts empty until Reload.
func NewService(loader *Loader, mapped MappedIndex, logger zerolog.Logger) *Service {
	s := &Service{loader: loader, mapped: mapped, logger: logger}
	s.current.Store(&LoadResult{Catalog: Empty()})
	return s
}

// NewStaticService serves a fixed catalog. Used by the CLI and tests.
func NewStaticService(cat *Catalog, mapped MappedIndex) *Service {
	s := &Service{mapped: mapped, logger: zerolog.Nop()}
	s.current.Store(&LoadResult{Catalog: cat, Source: "static"})
	return s
}

// Reload fetches the dataset again. Concurrent callers share one load, which
// runs detached from the caller's context. A caller whose context ends gets
// the catalog as it stands while the load finishes in the background.
func (s *Service) Reload(ctx context.Context) LoadResult {
	if s.loader == nil {
		return *s.current.Load()
	}
	detached := context.WithoutCancel(ctx)
	ch := s.reloads.DoChan("load", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(detached, ReloadTimeout)
		defer cancel()
		return s.apply(s.loader.Load(loadCtx)), nil
	})
	select {
	case <-ctx.Done():
		return *s.current.Load()
	case r := <-ch:
		return r.Val.(LoadResult)
	}
}

func (s *Service) apply(res LoadResult) LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if res.Warning != "" && prev.Catalog.Len() > 0 {
		kept := *prev
		kept.Warning = "reload failed, serving the previously loaded dataset: " + res.Warning
		s.current.Store(&kept)
		s.logger.Warn().Str("warning", res.Warning).Int("entries", prev.Catalog.Len()).
			Msg("catalog reload failed, keeping previous catalog")
		return kept
	}
	if len(s.uploaded) > 0 {
		res.Catalog = New(append(append([]CodeEntry(nil), s.uploaded...), res.Catalog.All()...))
	}
	s.current.Store(&res)
	return res
}

// Ingest adds uploaded codes in front of the loaded dataset. Records without
// a code or term are skipped and a missing system defaults to NAMASTE.
// Uploaded codes win over dataset entries with the same system and code, and
// they are kept across reloads. It returns how many new entries the catalog
// gained.
func (s *Service) Ingest(entries []CodeEntry) int {
	var clean []CodeEntry
	for _, e := range entries {
		e.Code = strings.TrimSpace(e.Code)
		e.Term = strings.TrimSpace(e.Term)
		if e.Code == "" || e.Term == "" {
			continue
		}
		if strings.TrimSpace(e.System) == "" {
			e.System = SystemNamaste
		}
		e.Mapped = false
		clean = append(clean, e)
	}
	if len(clean) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded = append(clean, s.uploaded...)
	prev := s.current.Load()
	next := *prev
	next.Catalog = New(append(append([]CodeEntry(nil), clean...), prev.Catalog.All()...))
	s.current.Store(&next)
	return next.Catalog.Len() - prev.Catalog.Len()
}

// Catalog returns the current catalog.
func (s *Service) Catalog() *Catalog {
	return s.current.Load().Catalog
}

// Status returns the last load result.
func (s *Service) Status() LoadResult {
	return *s.current.Load()
}

func (s *Service) mappedSet(ctx context.Context) (map[string]bool, error) {
	if s.mapped == nil {
		return map[string]bool{}, nil
	}
	set, err := s.mapped.MappedSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("read mapped sources: %w", err)
	}
	return set, nil
}

// Annotate sets the derived Mapped flag on entries in place.
func (s *Service) Annotate(ctx context.Context, entries []CodeEntry) error {
	set, err := s.mappedSet(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].Mapped = set[MappedKey(entries[i].System, entries[i].Code)]
	}
	return nil
}

// Search filters the catalog by query and optional system.
func (s *Service) Search(ctx context.Context, query, system string) ([]CodeEntry, error) {
	results := s.Catalog().Search(query, system)
	if err := s.Annotate(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

// Lookup resolves one entry.
func (s *Service) Lookup(ctx context.Context, system, code string) (CodeEntry, error) {
	if system == "" || code == "" {
		return CodeEntry{}, ErrInvalidRef
	}
	e, ok := s.Catalog().Find(system, code)
	if !ok {
		return CodeEntry{}, fmt.Errorf("%w: %s:%s", ErrNotFound, NormalizeSystem(system), code)
	}
	one := []CodeEntry{e}
	if err := s.Annotate(ctx, one); err != nil {
		return CodeEntry{}, err
	}
	return one[0], nil
}

// Stats counts entries per system and how many of them are mapped.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	res := s.Status()
	all := res.Catalog.All()
	if err := s.Annotate(ctx, all); err != nil {
		return nil, err
	}
	st := &Stats{
		Total:    len(all),
		BySystem: res.Catalog.CountBySystem(),
		Rejected: res.Catalog.Rejected(),
		Source:   res.Source,
		Warning:  res.Warning,
	}
	for _, e := range all {
		if e.Mapped {
			st.Mapped++
		}
	}
	return st, nil
}
