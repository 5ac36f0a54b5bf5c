// Package vinted implements the session-aware HTTP client for the semi-private
// catalog API. It owns the one shared session: cookie jar, browser-like
// identity headers, the CSRF token, and the minimum inter-request interval.
package vinted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/118.0.0.0 Safari/537.36"

	itemsPath  = "/api/v2/catalog/items"
	facetsPath = "/api/v2/catalog/filters"
)

// ErrTransport marks network-level failures (timeout, connection refused).
// Callers distinguish these from "the source returned nothing usable", which
// surfaces as an empty result instead.
var ErrTransport = errors.New("catalog transport failure")

// csrfCookieNames lists the cookie names the portal has been seen using.
var csrfCookieNames = []string{"vinted_csrf", "csrf_token", "secure_vinted_csrf"}

// Client is the session-aware catalog client. All outgoing requests share one
// cookie jar and are serialized through the rate limiter, so a single instance
// is safe for concurrent callers.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	csrf   string
	warmed bool
}

var _ ports.CatalogSearcher = (*Client)(nil)

// NewClient wires a catalog client for the given portal base URL. minInterval
// is the enforced gap between any two outgoing requests (default 900ms);
// httpClient may be nil, in which case a cookie-jar client with the given
// timeout is created.
func NewClient(base string, minInterval, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Client {
	if minInterval <= 0 {
		minInterval = 900 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		logger:  logger,
	}
}

// Get performs one rate-limited request against the portal and returns the
// raw body with its status code. Non-2xx responses are not errors here; only
// transport-level failures are, wrapped in ErrTransport.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, referer string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.ensureCSRF(ctx)

	target := path
	if !strings.HasPrefix(path, "http") {
		target = c.base + path
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid url %s: %w", target, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, referer)

	c.debug("GET", "url", u.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.debug("response", "status", resp.StatusCode, "bytes", len(body))
	return body, resp.StatusCode, nil
}

// SearchItems fetches one page of the free-text item search, newest first.
func (c *Client) SearchItems(ctx context.Context, query string, page, perPage int) ([]domain.CatalogItem, error) {
	params := map[string]string{
		"search_text": query,
		"order":       "newest_first",
		"page":        strconv.Itoa(page),
		"per_page":    strconv.Itoa(perPage),
	}
	referer := c.base + "/catalog?search_text=" + url.QueryEscape(query)
	return c.searchJSON(ctx, params, referer)
}

// SearchByParams fetches one page of the item search with explicit parameters
// (typically catalog_ids). refererQuery is appended to the emulated catalog
// page URL so the referer matches what the web app would send.
func (c *Client) SearchByParams(ctx context.Context, params map[string]string, refererQuery string) ([]domain.CatalogItem, error) {
	return c.searchJSON(ctx, params, c.base+"/catalog"+refererQuery)
}

func (c *Client) searchJSON(ctx context.Context, params map[string]string, referer string) ([]domain.CatalogItem, error) {
	body, status, err := c.Get(ctx, itemsPath, params, referer)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.debug("search returned non-2xx, treating as empty", "status", status)
		return []domain.CatalogItem{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.debug("search returned non-JSON, treating as empty")
		return []domain.CatalogItem{}, nil
	}

	// The API has shipped the page under both names.
	raw, ok := payload["items"].([]any)
	if !ok || len(raw) == 0 {
		if alt, altOK := payload["catalog_items"].([]any); altOK {
			raw = alt
		}
	}

	items := make([]domain.CatalogItem, 0, len(raw))
	for _, entry := range raw {
		if it, ok := entry.(map[string]any); ok {
			items = append(items, domain.CatalogItem(it))
		}
	}
	return items, nil
}

// FacetedCategories fetches the hierarchy fragment for the given category ids.
// A response the source mangled (non-2xx, non-JSON) comes back as an empty map.
func (c *Client) FacetedCategories(ctx context.Context, catalogIDs string) (map[string]any, error) {
	params := map[string]string{"catalog_ids": catalogIDs}
	referer := c.base + "/catalog?catalog_ids=" + url.QueryEscape(catalogIDs)

	body, status, err := c.Get(ctx, facetsPath, params, referer)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return map[string]any{}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return map[string]any{}, nil
	}
	return payload, nil
}

// Child is one candidate child category surfaced by the facets endpoint.
type Child struct {
	ID    int64
	Title string
}

// ChildCategories probes the facet payload under the key names the source has
// been seen using (children, items, breadcrumbs) and returns the deduplicated
// candidates sorted by title.
func ChildCategories(payload map[string]any, parentID int64) []Child {
	var out []Child
	seen := map[int64]bool{}
	for _, key := range []string{"children", "items", "breadcrumbs"} {
		arr, ok := payload[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range arr {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			id, ok := obj["id"].(float64)
			if !ok || int64(id) == parentID || seen[int64(id)] {
				continue
			}
			title, _ := obj["title"].(string)
			if title == "" {
				title, _ = obj["name"].(string)
			}
			if title == "" {
				continue
			}
			seen[int64(id)] = true
			out = append(out, Child{ID: int64(id), Title: title})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

// setHeaders applies the consistent session identity plus the XHR headers the
// web app sends on API calls.
func (c *Client) setHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("App-Platform", "web")
	if referer == "" {
		referer = c.base + "/catalog"
	}
	req.Header.Set("Referer", referer)

	c.mu.Lock()
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	c.mu.Unlock()
}

// ensureCSRF performs the one-time warm-up request against the portal entry
// page and caches the anti-forgery token from the session cookies. A missing
// token is tolerated; calls proceed without it.
func (c *Client) ensureCSRF(ctx context.Context) {
	c.mu.Lock()
	if c.warmed || c.csrf != "" {
		c.mu.Unlock()
		return
	}
	c.warmed = true
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		c.debug("csrf warm-up failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if c.http.Jar == nil {
		return
	}
	base, err := url.Parse(c.base + "/")
	if err != nil {
		return
	}
	for _, cookie := range c.http.Jar.Cookies(base) {
		for _, name := range csrfCookieNames {
			if cookie.Name == name && cookie.Value != "" {
				c.mu.Lock()
				c.csrf = cookie.Value
				c.mu.Unlock()
				c.debug("csrf token acquired", "cookie", name)
				return
			}
		}
	}
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
