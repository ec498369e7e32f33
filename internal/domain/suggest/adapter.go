// Package suggest asks an external completion service for likely codes in the
// opposite coding systems, explains codes and answers assistant questions.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/llm"
)

// Limits and placeholders.
const (
	MaxPerSystem       = 6
	SuggestionTerm     = "(AI suggestion)"
	DefaultCallTimeout = 30 * time.Second
)

// ErrUnavailable is returned when no completion service is configured.
var ErrUnavailable = errors.New("suggestion service unavailable")

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("question is required")

// ServiceError wraps a failed outbound call. It is distinct from an answer
// with zero suggestions.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("suggestion service %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// CatalogSource exposes the currently loaded catalog.
type CatalogSource interface {
	Catalog() *catalog.Catalog
}

// SystemCandidates are the suggested entries for one coding system.
type SystemCandidates struct {
	System  string              `json:"system"`
	Key     string              `json:"key"`
	Entries []catalog.CodeEntry `json:"entries"`
}

// Adapter talks to the completion service. A nil completer makes every call
// fail with ErrUnavailable.
type Adapter struct {
	completer llm.Client
	catalog   CatalogSource
	explains  singleflight.Group
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewAdapter creates an adapter. completer may be nil.
func NewAdapter(completer llm.Client, cat CatalogSource, logger zerolog.Logger) *Adapter {
	return &Adapter{
		completer: completer,
		catalog:   cat,
		timeout:   DefaultCallTimeout,
		logger:    logger.With().Str("component", "suggest").Logger(),
	}
}

// WithTimeout bounds calls that outlive the request that started them.
func (a *Adapter) WithTimeout(d time.Duration) *Adapter {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Available reports whether a completion service is configured.
func (a *Adapter) Available() bool {
	return a.completer != nil
}

// Suggest asks for codes likely to match query in the systems opposite to
// direction's source side. A blank query returns nil without a call. No
// retries are attempted.
func (a *Adapter) Suggest(ctx context.Context, query string, d catalog.Direction) ([]SystemCandidates, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if a.completer == nil {
		return nil, ErrUnavailable
	}

	system, user := suggestPrompts(q, d)
	raw, err := a.completer.JSON(ctx, system, user)
	if err != nil {
		a.logger.Warn().Err(err).Str("query", q).Msg("suggestion call failed")
		return nil, &ServiceError{Op: "suggest", Err: err}
	}
	parsed := ParseSuggestion(raw)
	return a.resolve(parsed, d), nil
}

func (a *Adapter) resolve(s Suggestion, d catalog.Direction) []SystemCandidates {
	cat := a.catalog.Catalog()
	keys := keysFor(d)
	out := make([]SystemCandidates, 0, len(keys))
	for _, k := range keys {
		codes := s[k.Key]
		if len(codes) > MaxPerSystem {
			codes = codes[:MaxPerSystem]
		}
		entries := make([]catalog.CodeEntry, 0, len(codes))
		for _, code := range codes {
			if e, ok := cat.Find(k.System, code); ok {
				entries = append(entries, e)
				continue
			}
			entries = append(entries, catalog.CodeEntry{Code: code, Term: SuggestionTerm, System: k.System})
		}
		out = append(out, SystemCandidates{System: k.System, Key: k.Key, Entries: entries})
	}
	return out
}

// Explain returns a short clinician-facing explanation of entry. Concurrent
// calls for the same entry share one outbound request. The shared request is
// detached from any single caller; each caller stops waiting when its own
// context ends.
func (a *Adapter) Explain(ctx context.Context, entry catalog.CodeEntry) (string, error) {
	if a.completer == nil {
		return "", ErrUnavailable
	}
	shared := context.WithoutCancel(ctx)
	ch := a.explains.DoChan(entry.Key(), func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(shared, a.timeout)
		defer cancel()
		return a.completer.Text(callCtx, explainPrompt(entry))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", &ServiceError{Op: "explain", Err: res.Err}
		}
		return strings.TrimSpace(res.Val.(string)), nil
	}
}

// Ask answers a support question with the last MaxHistoryTurns of history as
// context.
func (a *Adapter) Ask(ctx context.Context, history []Turn, question string) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", ErrEmptyQuestion
	}
	if a.completer == nil {
		return "", ErrUnavailable
	}
	answer, err := a.completer.Text(ctx, askPrompt(history, q))
	if err != nil {
		return "", &ServiceError{Op: "ask", Err: err}
	}
	return strings.TrimSpace(answer), nil
}
