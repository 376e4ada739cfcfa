package scanner

import (
	"context"
	"testing"

	"CreatorScanner/internal/domain"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }

func (stubScanner) ListPage(context.Context, Source, string) (Page, error) { return Page{}, nil }

func (stubScanner) FetchDetail(context.Context, Source, domain.ItemHandle) (Detail, error) {
	return Detail{}, nil
}

func (stubScanner) FetchGroups(context.Context, Source, domain.ItemHandle) ([]domain.Collection, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner{name: "html"})
	reg.Register(stubScanner{name: "api"})

	if _, err := reg.Resolve("html"); err != nil {
		t.Fatalf("Resolve(html): %v", err)
	}
	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatalf("expected error for unregistered scanner")
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "api" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestSourceOption(t *testing.T) {
	t.Parallel()

	src := Source{Options: map[string]string{"itemSelector": "a.post", "empty": ""}}
	if got := src.Option("itemSelector", "a"); got != "a.post" {
		t.Fatalf("got %s", got)
	}
	if got := src.Option("empty", "fallback"); got != "fallback" {
		t.Fatalf("got %s", got)
	}
	if got := src.Option("missing", "fallback"); got != "fallback" {
		t.Fatalf("got %s", got)
	}
}
