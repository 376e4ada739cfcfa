// Package fetcher downloads media payloads over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"CreatorScanner/internal/ports"
)

// NewClient builds the resty client shared by scanners and the media fetcher.
func NewClient(userAgent string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetHeader("User-Agent", userAgent)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	return client
}

// HTTPFetcher implements ports.MediaFetcher with a size limit.
type HTTPFetcher struct {
	client   *resty.Client
	maxBytes int64
}

var _ ports.MediaFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher wraps client. A maxBytes of zero disables the limit.
func NewHTTPFetcher(client *resty.Client, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url fully into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req := f.client.R().SetContext(ctx)
	if f.maxBytes > 0 {
		// stream so oversize bodies are cut before they are buffered
		req = req.SetDoNotParseResponse(true)
	}

	res, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	if f.maxBytes <= 0 {
		if res.IsError() {
			return nil, fmt.Errorf("fetch %s: %s", url, res.Status())
		}
		return res.Body(), nil
	}

	body := res.RawBody()
	defer body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("fetch %s: %s", url, res.Status())
	}
	return readLimited(body, f.maxBytes, url)
}
