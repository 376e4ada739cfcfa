// Package diff decides which ids of a newest-first listing are new to a source.
package diff

import (
	"context"
	"fmt"
	"strings"
)

// KnownSet answers which of the given native ids a source already tracks.
type KnownSet interface {
	Known(ctx context.Context, sourceID int64, nativeIDs []string) (map[string]bool, error)
}

// Option customises an Engine.
type Option func(*Engine)

// WithFullScan keeps scanning past known ids and only filters them out.
// Use it when the listing may reorder edited items.
func WithFullScan(full bool) Option {
	return func(e *Engine) { e.fullScan = full }
}

// Engine compares observed listing pages with tracked items.
type Engine struct {
	known    KnownSet
	fullScan bool
}

// Result is the outcome of diffing one observed page.
type Result struct {
	// NewIDs keeps the observed order.
	NewIDs []string
	// Continue reports whether the caller should fetch the next, older page.
	Continue bool
}

// New returns an Engine backed by the tracker's known-id lookup.
func New(known KnownSet, opts ...Option) *Engine {
	e := &Engine{known: known}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FullScan reports whether the engine is in full-scan mode.
func (e *Engine) FullScan() bool {
	return e.fullScan
}

// Diff collects the leading ids of observed (newest first) that the source does
// not know yet. It stops at the first known id and reports Continue=false, since
// everything older is assumed known as well. An empty page ends the listing.
// Ids are compared and returned with surrounding whitespace trimmed; blank ids
// are dropped.
func (e *Engine) Diff(ctx context.Context, sourceID int64, observed []string) (Result, error) {
	if len(observed) == 0 {
		return Result{}, nil
	}

	ids := make([]string, 0, len(observed))
	for _, id := range observed {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	res := Result{Continue: true}
	if len(ids) == 0 {
		return res, nil
	}

	known, err := e.known.Known(ctx, sourceID, ids)
	if err != nil {
		return Result{}, fmt.Errorf("diff known ids: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if known[id] {
			if e.fullScan {
				continue
			}
			res.Continue = false
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		res.NewIDs = append(res.NewIDs, id)
	}
	return res, nil
}
