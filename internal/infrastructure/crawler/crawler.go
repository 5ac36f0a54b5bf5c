// Package crawler discovers the catalog category hierarchy by walking the
// portal's HTML pages, starting from the homepage. It stays on the HTML side
// of the site: no private API, only anchor links and breadcrumb trails.
package crawler

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
)

var (
	catHrefRe    = regexp.MustCompile(`(?i)^/catalog/(\d+)-([a-z0-9-]+)$`)
	breadcrumbRe = regexp.MustCompile(`(?i)/catalog/(\d+)-[a-z0-9-]+`)
)

// PageFetcher is the slice of the session client the crawler needs.
type PageFetcher interface {
	Get(ctx context.Context, path string, params map[string]string, referer string) ([]byte, int, error)
}

// Crawler walks catalog pages breadth-first and collects category records.
// A category id discovered twice keeps its first-seen record; re-crawls only
// ever add nodes.
type Crawler struct {
	fetcher  PageFetcher
	maxPages int
	delay    time.Duration
	logger   *slog.Logger
}

// New wires a crawler; maxPages defaults to 5000 and delay to 200ms.
func New(fetcher PageFetcher, maxPages int, delay time.Duration, logger *slog.Logger) *Crawler {
	if maxPages <= 0 {
		maxPages = 5000
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Crawler{fetcher: fetcher, maxPages: maxPages, delay: delay, logger: logger}
}

// Run crawls from the seed URL until the queue drains or the page ceiling is
// reached, and returns all discovered categories sorted by (level, parent, id).
// Fetch failures for individual URLs are logged and skipped.
func (c *Crawler) Run(ctx context.Context, seed string) ([]domain.CategoryNode, error) {
	seedURL, err := url.Parse(seed)
	if err != nil {
		return nil, err
	}

	queue := []string{seed}
	seenURLs := map[string]bool{}
	found := map[int64]domain.CategoryNode{}
	visited := 0

	for len(queue) > 0 && visited < c.maxPages {
		if err := ctx.Err(); err != nil {
			return sortNodes(found), err
		}

		pageURL := queue[0]
		queue = queue[1:]
		if seenURLs[pageURL] {
			continue
		}
		seenURLs[pageURL] = true

		body, status, err := c.fetcher.Get(ctx, pageURL, nil, seed)
		if err != nil {
			c.warn("page fetch failed", "url", pageURL, "error", err)
			continue
		}
		if status >= 400 {
			c.warn("page fetch rejected", "url", pageURL, "status", status)
			continue
		}
		visited++

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			c.warn("page parse failed", "url", pageURL, "error", err)
			continue
		}

		for _, href := range extractCatalogLinks(doc) {
			abs := resolveRef(seedURL, href)
			if abs != "" && !seenURLs[abs] {
				queue = append(queue, abs)
			}
		}

		if node, ok := categoryFromPage(pageURL, doc); ok {
			if _, exists := found[node.ID]; !exists {
				found[node.ID] = node
				c.debug("category discovered", "id", node.ID, "path", node.Path)
			}
		}

		if c.delay > 0 {
			select {
			case <-ctx.Done():
				return sortNodes(found), ctx.Err()
			case <-time.After(c.delay):
			}
		}
	}

	c.debug("crawl finished", "visited", visited, "categories", len(found))
	return sortNodes(found), nil
}

// extractCatalogLinks returns every '/catalog/<id>-<slug>' href on the page,
// query strings stripped, deduplicated.
func extractCatalogLinks(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if i := strings.IndexByte(href, '?'); i >= 0 {
			href = href[:i]
		}
		if catHrefRe.MatchString(href) && !seen[href] {
			seen[href] = true
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// crumb is one breadcrumb entry: the category it links to and its title.
type crumb struct {
	title string
	id    int64
}

// parseBreadcrumbs extracts the ordered breadcrumb trail. It first scans the
// usual navigational containers, then falls back to a rough approximation over
// all catalog-shaped anchors. Best effort either way; callers must tolerate an
// empty or imprecise trail.
func parseBreadcrumbs(doc *goquery.Document) []crumb {
	for _, sel := range []string{"nav", "ol", "ul", "div"} {
		var crumbs []crumb
		doc.Find(sel + " a[href*='/catalog/']").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			m := breadcrumbRe.FindStringSubmatch(href)
			if m == nil {
				return
			}
			id, _ := strconv.ParseInt(m[1], 10, 64)
			title := strings.TrimSpace(a.Text())
			if title != "" {
				crumbs = append(crumbs, crumb{title: title, id: id})
			}
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}

	// Fallback: last few unique catalog anchors anywhere on the page.
	var all []crumb
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := breadcrumbRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id, _ := strconv.ParseInt(m[1], 10, 64)
		all = append(all, crumb{title: strings.TrimSpace(a.Text()), id: id})
	})
	seen := map[int64]bool{}
	var uniq []crumb
	for _, cr := range all {
		if !seen[cr.id] {
			seen[cr.id] = true
			uniq = append(uniq, cr)
		}
	}
	if len(uniq) > 5 {
		uniq = uniq[len(uniq)-5:]
	}
	return uniq
}

// categoryFromPage derives the CategoryNode when the page itself is a catalog
// page: id and slug from the URL path, name and lineage from the breadcrumbs,
// with a slug-derived title as last resort.
func categoryFromPage(pageURL string, doc *goquery.Document) (domain.CategoryNode, bool) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return domain.CategoryNode{}, false
	}
	m := catHrefRe.FindStringSubmatch(parsed.Path)
	if m == nil {
		return domain.CategoryNode{}, false
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	slug := m[2]

	crumbs := parseBreadcrumbs(doc)
	titles := make([]string, 0, len(crumbs))
	ids := make([]int64, 0, len(crumbs))
	for _, cr := range crumbs {
		titles = append(titles, cr.title)
		ids = append(ids, cr.id)
	}

	name := slugTitle(slug)
	if len(titles) > 0 {
		name = titles[len(titles)-1]
	}

	var parentID int64
	if len(ids) >= 2 && ids[len(ids)-1] == id {
		parentID = ids[len(ids)-2]
	}

	path := name
	if len(titles) > 0 {
		path = strings.Join(titles, " > ")
	}

	level := 1
	if len(ids) > 0 {
		level = len(ids)
	}

	return domain.CategoryNode{
		ID:       id,
		Slug:     slug,
		Name:     name,
		URL:      pageURL,
		ParentID: parentID,
		Path:     path,
		Level:    level,
	}, true
}

func slugTitle(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func sortNodes(found map[int64]domain.CategoryNode) []domain.CategoryNode {
	nodes := make([]domain.CategoryNode, 0, len(found))
	for _, n := range found {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Level != nodes[j].Level {
			return nodes[i].Level < nodes[j].Level
		}
		if nodes[i].ParentID != nodes[j].ParentID {
			return nodes[i].ParentID < nodes[j].ParentID
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

func (c *Crawler) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Crawler) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
