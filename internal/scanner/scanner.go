package scanner

import (
	"context"
	"fmt"
	"sort"

	"CreatorScanner/internal/domain"
)

// Source is one configured creator account handed to a strategy.
type Source struct {
	Platform string
	NativeID string
	Name     string
	URL      string
	Options  map[string]string
}

// Option returns the named option or fallback when unset.
func (s Source) Option(name, fallback string) string {
	if v, ok := s.Options[name]; ok && v != "" {
		return v
	}
	return fallback
}

// Entry is one item reference on a listing page.
type Entry struct {
	NativeID string
	URL      string
}

// Page is one newest-first slice of a source's listing.
type Page struct {
	Entries []Entry
	// Next is the cursor of the following, older page. Empty on the last page.
	Next string
}

// MediaRef points at a media payload of an item. Data, when set, is used as is
// instead of fetching URL.
type MediaRef struct {
	Role string
	URL  string
	Type domain.MediaType
	Data []byte
}

// Detail is the parsed phase 2 content of an item.
type Detail struct {
	domain.ItemDetail
	Media []MediaRef
}

// Scanner captures a single platform strategy.
type Scanner interface {
	Name() string
	// ListPage returns the listing page at cursor; the empty cursor is the newest page.
	ListPage(ctx context.Context, src Source, cursor string) (Page, error)
	FetchDetail(ctx context.Context, src Source, item domain.ItemHandle) (Detail, error)
	FetchGroups(ctx context.Context, src Source, item domain.ItemHandle) ([]domain.Collection, error)
}

// Target binds a configured source to the strategy that scans it.
type Target struct {
	Source  Source
	Scanner Scanner
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
