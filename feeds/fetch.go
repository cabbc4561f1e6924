package feeds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homedash/models"

	"github.com/mmcdole/gofeed"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultMaxFeedBytes = 10 << 20 // 10MB
	userAgent           = "homedash/1.0 (+feed refresher)"
)

// FetchError is a network level failure while downloading a feed
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the downloaded document is not a feed we understand
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse feed: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Fetcher downloads a feed document
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser turns a raw feed document into a snapshot
type Parser interface {
	Parse(raw []byte) (models.FeedSnapshot, error)
}

// HTTPFetcher downloads feeds with a bounded timeout and body size
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: DefaultMaxFeedBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxFeedBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > limit {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("feed larger than %d bytes", limit)}
	}
	return body, nil
}

// GofeedParser parses RSS, Atom and JSON feeds with gofeed
type GofeedParser struct{}

func (GofeedParser) Parse(raw []byte) (models.FeedSnapshot, error) {
	// gofeed parsers keep per-document state, so one per call
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return models.FeedSnapshot{}, &ParseError{Err: err}
	}

	items := make([]models.FeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		var author *string
		if item.Author != nil {
			author = optional(item.Author.Name)
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			author = optional(item.Authors[0].Name)
		}
		items = append(items, models.FeedItem{
			Title:       optional(item.Title),
			Link:        optional(item.Link),
			Description: optional(item.Description),
			Author:      author,
		})
	}

	return models.FeedSnapshot{
		Name:  feed.Title,
		Link:  feed.Link,
		Items: items,
	}, nil
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
