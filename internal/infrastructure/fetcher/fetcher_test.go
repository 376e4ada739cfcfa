package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/small.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("tiny"))
	})
	mux.HandleFunc("/large.bin", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	for _, limit := range []int64{0, 16} {
		f := NewHTTPFetcher(NewClient("test-agent", time.Second), limit)
		data, err := f.Fetch(context.Background(), srv.URL+"/small.png")
		if err != nil {
			t.Fatalf("limit %d: Fetch: %v", limit, err)
		}
		if string(data) != "tiny" {
			t.Fatalf("limit %d: body = %q", limit, data)
		}
	}
}

func TestFetchEnforcesLimit(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	f := NewHTTPFetcher(NewClient("test-agent", time.Second), 16)
	if _, err := f.Fetch(context.Background(), srv.URL+"/large.bin"); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	f := NewHTTPFetcher(NewClient("test-agent", time.Second), 0)
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
}
