package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// ContentFetcher pulls the readable-text content of a URL, used to
// expand a search hit's snippet into full source material before
// synthesis. A maxBytes cap bounds how much of a page is read before
// extraction, so a single oversized page can't stall a handler.
type ContentFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewContentFetcher(timeout time.Duration, maxBytes int64) *ContentFetcher {
	return &ContentFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads and extracts the readable text of a page.
func (f *ContentFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", pageURL, err)
	}

	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract readable content from %s: %w", pageURL, err)
	}
	return article.TextContent, nil
}
