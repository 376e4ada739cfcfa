package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/scanner"
)

// Selector option names read from a source's options.
const (
	OptItem         = "item"
	OptIDAttr       = "idAttr"
	OptLink         = "link"
	OptNext         = "next"
	OptTitle        = "title"
	OptBody         = "body"
	OptPublished    = "published"
	OptMedia        = "media"
	OptGroup        = "group"
	OptGroupIDAttr  = "groupIdAttr"
	htmlScannerName = "html"
)

var defaultSelectors = map[string]string{
	OptItem:        "article",
	OptIDAttr:      "data-id",
	OptLink:        "a",
	OptNext:        "a[rel=next]",
	OptTitle:       "h1",
	OptBody:        "article p",
	OptPublished:   "time",
	OptMedia:       "img[src], audio[src], video[src], audio source[src], video source[src]",
	OptGroup:       "",
	OptGroupIDAttr: "data-collection",
}

// HTMLScanner lists and parses creator pages described by CSS selectors.
type HTMLScanner struct {
	client *resty.Client
}

var _ scanner.Scanner = (*HTMLScanner)(nil)

// NewHTMLScanner wires a resty client; nil gets a client with default settings.
func NewHTMLScanner(client *resty.Client) *HTMLScanner {
	if client == nil {
		client = resty.New().SetTimeout(20 * time.Second)
	}
	return &HTMLScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return htmlScannerName
}

// ListPage fetches the listing at cursor, or the source URL for the first page.
func (h *HTMLScanner) ListPage(ctx context.Context, src scanner.Source, cursor string) (scanner.Page, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = src.URL
	}
	if pageURL == "" {
		return scanner.Page{}, fmt.Errorf("%w: source %s/%s has no url", domain.ErrValidation, src.Platform, src.NativeID)
	}

	doc, base, err := h.fetchDocument(ctx, pageURL)
	if err != nil {
		return scanner.Page{}, err
	}

	page := extractEntries(doc, base, src)
	if next, ok := doc.Find(selector(src, OptNext)).First().Attr("href"); ok && strings.TrimSpace(next) != "" {
		page.Next = resolveURL(base, next)
	}
	return page, nil
}

// FetchDetail parses title, body paragraphs, publication time and media references.
func (h *HTMLScanner) FetchDetail(ctx context.Context, src scanner.Source, item domain.ItemHandle) (scanner.Detail, error) {
	doc, base, err := h.fetchDocument(ctx, item.URL)
	if err != nil {
		return scanner.Detail{}, err
	}
	return parseDetail(doc, base, src)
}

// FetchGroups returns the collections the item page links to. Sources without
// a group selector have none.
func (h *HTMLScanner) FetchGroups(ctx context.Context, src scanner.Source, item domain.ItemHandle) ([]domain.Collection, error) {
	if selector(src, OptGroup) == "" {
		return nil, nil
	}
	doc, _, err := h.fetchDocument(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	return extractGroups(doc, src), nil
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid page url %s: %w", domain.ErrValidation, pageURL, err)
	}

	res, err := h.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("request document: %w", err)
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("%s returned %s", pageURL, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, base, nil
}

func extractEntries(doc *goquery.Document, base *url.URL, src scanner.Source) scanner.Page {
	var page scanner.Page
	idAttr := selector(src, OptIDAttr)
	linkSel := selector(src, OptLink)

	doc.Find(selector(src, OptItem)).Each(func(_ int, s *goquery.Selection) {
		link := s
		if !s.Is("a") {
			link = s.Find(linkSel).First()
		}
		href, _ := link.Attr("href")
		href = strings.TrimSpace(href)

		id := strings.TrimSpace(s.AttrOr(idAttr, ""))
		if id == "" && href != "" {
			id = lastPathSegment(href)
		}
		if id == "" {
			return
		}

		entry := scanner.Entry{NativeID: id}
		if href != "" {
			entry.URL = resolveURL(base, href)
		}
		page.Entries = append(page.Entries, entry)
	})
	return page
}

func parseDetail(doc *goquery.Document, base *url.URL, src scanner.Source) (scanner.Detail, error) {
	var detail scanner.Detail
	detail.Title = strings.TrimSpace(doc.Find(selector(src, OptTitle)).First().Text())

	var paragraphs []string
	doc.Find(selector(src, OptBody)).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	detail.Body = strings.Join(paragraphs, "\n\n")

	content, err := json.Marshal(struct {
		Paragraphs []string `json:"paragraphs"`
	}{Paragraphs: paragraphs})
	if err != nil {
		return scanner.Detail{}, fmt.Errorf("encode content: %w", err)
	}
	detail.Content = content

	published := doc.Find(selector(src, OptPublished)).First()
	if published.Length() > 0 {
		detail.PublishedAt = parsePublished(published)
	}

	counts := map[domain.MediaType]int{}
	seen := map[string]struct{}{}
	doc.Find(selector(src, OptMedia)).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("src")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		kind, ok := mediaTypeOf(s)
		if !ok {
			return
		}
		abs := resolveURL(base, strings.TrimSpace(href))
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		counts[kind]++
		detail.Media = append(detail.Media, scanner.MediaRef{
			Role: string(kind) + "-" + strconv.Itoa(counts[kind]),
			URL:  abs,
			Type: kind,
		})
	})

	return detail, nil
}

func extractGroups(doc *goquery.Document, src scanner.Source) []domain.Collection {
	idAttr := selector(src, OptGroupIDAttr)
	var groups []domain.Collection
	seen := map[string]struct{}{}

	doc.Find(selector(src, OptGroup)).Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr(idAttr, ""))
		if id == "" {
			if href, ok := s.Attr("href"); ok {
				id = lastPathSegment(href)
			}
		}
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		groups = append(groups, domain.Collection{NativeID: id, Title: strings.TrimSpace(s.Text())})
	})
	return groups
}

func mediaTypeOf(s *goquery.Selection) (domain.MediaType, bool) {
	switch goquery.NodeName(s) {
	case "img":
		return domain.MediaImage, true
	case "audio":
		return domain.MediaAudio, true
	case "video":
		return domain.MediaVideo, true
	case "source":
		return mediaTypeOf(s.Parent())
	default:
		return "", false
	}
}

func parsePublished(s *goquery.Selection) time.Time {
	value := strings.TrimSpace(s.AttrOr("datetime", ""))
	if value == "" {
		value = strings.TrimSpace(s.Text())
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2 Jan 2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func selector(src scanner.Source, name string) string {
	return src.Option(name, defaultSelectors[name])
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func lastPathSegment(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return p
}
