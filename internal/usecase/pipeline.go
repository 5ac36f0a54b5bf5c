package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/fingerprint"
	"github.com/maiazelda/vinted-lens-project/internal/normalize"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

// Skip reasons reported in run summaries. Per-item failures are recorded under
// one of these and never abort the page they belong to.
const (
	SkipNoID          = "no_id"
	SkipMissingImage  = "missing_image"
	SkipImageDownload = "image_download"
	SkipBadPrint      = "bad_fingerprint"
)

const commitAttempts = 3

// Target selects one slice of the catalog to ingest: either a free-text query
// or an explicit category id (the id wins when both are set).
type Target struct {
	Name      string
	Query     string
	CatalogID int64
	PerPage   int
	MaxPages  int
	Lookback  time.Duration
}

// Summary accumulates the per-run counts the operator sees.
type Summary struct {
	Seen     int
	Kept     int
	Deduped  int
	Inserted int
	Skipped  map[string]int
}

func newSummary() *Summary {
	return &Summary{Skipped: map[string]int{}}
}

// Merge folds another summary into this one.
func (s *Summary) Merge(other *Summary) {
	s.Seen += other.Seen
	s.Kept += other.Kept
	s.Deduped += other.Deduped
	s.Inserted += other.Inserted
	for reason, n := range other.Skipped {
		if s.Skipped == nil {
			s.Skipped = map[string]int{}
		}
		s.Skipped[reason] += n
	}
}

// String renders the counts in a single line, skip reasons sorted for
// deterministic output.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "seen=%d kept=%d deduped=%d inserted=%d", s.Seen, s.Kept, s.Deduped, s.Inserted)
	reasons := make([]string, 0, len(s.Skipped))
	for reason := range s.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, " skipped_%s=%d", reason, s.Skipped[reason])
	}
	return b.String()
}

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Searcher      ports.CatalogSearcher
	Store         ports.VectorStore
	Images        ports.ImageFetcher
	Generator     *fingerprint.Generator
	Logger        *slog.Logger
	ImageWorkers  int
	DownloadDelay time.Duration
}

// Pipeline turns pages of raw catalog items into persisted listing/fingerprint
// pairs. Per-item failures skip only that item; per-page failures skip only
// that page; only store failures terminate a run.
type Pipeline struct {
	searcher   ports.CatalogSearcher
	store      ports.VectorStore
	images     ports.ImageFetcher
	generator  *fingerprint.Generator
	logger     *slog.Logger
	workers    int
	imgLimiter *rate.Limiter
}

// NewPipeline constructs the orchestration component. ImageWorkers defaults to
// 4 and DownloadDelay to 100ms.
func NewPipeline(deps PipelineDeps) *Pipeline {
	workers := deps.ImageWorkers
	if workers <= 0 {
		workers = 4
	}
	delay := deps.DownloadDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Pipeline{
		searcher:   deps.Searcher,
		store:      deps.Store,
		images:     deps.Images,
		generator:  deps.Generator,
		logger:     deps.Logger,
		workers:    workers,
		imgLimiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Run ingests one target page by page until the source is exhausted or the
// page ceiling is reached. The returned summary is valid even when an error
// cut the run short.
func (p *Pipeline) Run(ctx context.Context, target Target) (*Summary, error) {
	perPage := target.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	maxPages := target.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	lookback := target.Lookback
	if lookback <= 0 {
		lookback = 730 * 24 * time.Hour
	}
	since := time.Now().UTC().Add(-lookback)

	total := newSummary()
	for page := 1; page <= maxPages; page++ {
		items, err := p.fetchPage(ctx, target, page, perPage)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			p.warn("page fetch failed, skipping", "target", target.Name, "page", page, "error", err)
			continue
		}
		if len(items) == 0 {
			p.info("source exhausted", "target", target.Name, "page", page)
			break
		}

		pageSummary, err := p.processPage(ctx, items, since)
		if err != nil {
			total.Merge(pageSummary)
			return total, fmt.Errorf("page %d: %w", page, err)
		}
		p.info("page done", "target", target.Name, "page", page, "counts", pageSummary.String())
		total.Merge(pageSummary)
	}
	return total, nil
}

func (p *Pipeline) fetchPage(ctx context.Context, target Target, page, perPage int) ([]domain.CatalogItem, error) {
	if target.CatalogID > 0 {
		params := map[string]string{
			"catalog_ids": fmt.Sprintf("%d", target.CatalogID),
			"order":       "newest_first",
			"page":        fmt.Sprintf("%d", page),
			"per_page":    fmt.Sprintf("%d", perPage),
		}
		return p.searcher.SearchByParams(ctx, params, fmt.Sprintf("?catalog_ids=%d", target.CatalogID))
	}
	return p.searcher.SearchItems(ctx, target.Query, page, perPage)
}

// processPage runs the per-page algorithm: normalize, recency-filter, dedup,
// fingerprint, commit. Item order from the source is preserved in the batch;
// failed items are simply absent.
func (p *Pipeline) processPage(ctx context.Context, items []domain.CatalogItem, since time.Time) (*Summary, error) {
	summary := newSummary()
	summary.Seen = len(items)

	var candidates []domain.Listing
	for _, it := range items {
		listing, err := normalize.Item(it)
		if err != nil {
			summary.Skipped[SkipNoID]++
			continue
		}
		if !normalize.WithinLookback(listing, since) {
			continue
		}
		candidates = append(candidates, listing)
	}
	summary.Kept = len(candidates)
	if len(candidates) == 0 {
		return summary, nil
	}

	ids := make([]int64, len(candidates))
	for i, l := range candidates {
		ids[i] = l.ID
	}
	existing, err := p.store.ExistingIDs(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("dedup lookup: %w", err)
	}

	var todo []domain.Listing
	for _, l := range candidates {
		if existing[l.ID] {
			summary.Deduped++
			continue
		}
		todo = append(todo, l)
	}
	if len(todo) == 0 {
		return summary, nil
	}

	results := make([]itemResult, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, listing := range todo {
		g.Go(func() error {
			results[i] = p.processItem(gctx, listing)
			return nil
		})
	}
	_ = g.Wait()

	var (
		listings     []domain.Listing
		fingerprints []domain.Fingerprint
	)
	for _, res := range results {
		if res.skip != "" {
			summary.Skipped[res.skip]++
			p.warn("item skipped", "id", res.listing.ID, "reason", res.skip, "error", res.err)
			continue
		}
		listings = append(listings, res.listing)
		fingerprints = append(fingerprints, res.print)
	}

	if err := p.commit(ctx, listings, fingerprints); err != nil {
		return summary, err
	}
	summary.Inserted = len(listings)
	return summary, nil
}

type itemResult struct {
	listing domain.Listing
	print   domain.Fingerprint
	skip    string
	err     error
}

// processItem downloads the photo and generates the fingerprint for one
// listing. Every failure maps to a skip reason; nothing here aborts the page.
func (p *Pipeline) processItem(ctx context.Context, listing domain.Listing) itemResult {
	if listing.ImageURL == "" {
		return itemResult{listing: listing, skip: SkipMissingImage}
	}

	// Paces downloads against the image host, independent of the catalog
	// client's own rate limiter.
	if err := p.imgLimiter.Wait(ctx); err != nil {
		return itemResult{listing: listing, skip: SkipImageDownload, err: err}
	}

	image, err := p.images.Fetch(ctx, listing.ImageURL)
	if err != nil {
		return itemResult{listing: listing, skip: SkipImageDownload, err: err}
	}

	print, err := p.generator.Generate(ctx, listing.ID, image)
	if err != nil {
		return itemResult{listing: listing, skip: SkipBadPrint, err: err}
	}

	return itemResult{listing: listing, print: print}
}

// commit writes the page batch, retrying a bounded number of times before the
// batch is reported as failed. An empty batch is a no-op.
func (p *Pipeline) commit(ctx context.Context, listings []domain.Listing, fingerprints []domain.Fingerprint) error {
	if len(listings) == 0 {
		return nil
	}

	backoff := retry.NewConstant(time.Second)
	err := retry.Do(ctx, retry.WithMaxRetries(commitAttempts, backoff), func(ctx context.Context) error {
		if err := p.store.Commit(ctx, listings, fingerprints); err != nil {
			p.warn("batch commit failed, will retry", "size", len(listings), "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch of %d: %w", len(listings), err)
	}
	return nil
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
