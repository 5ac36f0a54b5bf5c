// Package images downloads listing photos. The image host is a separate
// service from the catalog API and is paced independently of the session
// client's rate limiter.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

const maxImageBytes = 20 << 20

// Fetcher downloads photos with a catalog-page referer, which the image CDN
// expects to see.
type Fetcher struct {
	referer string
	http    *http.Client
}

var _ ports.ImageFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; timeout defaults to 15s.
func NewFetcher(referer string, timeout time.Duration, httpClient *http.Client) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Fetcher{referer: referer, http: httpClient}
}

// Fetch downloads one photo and returns its raw bytes.
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image host returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return body, nil
}
