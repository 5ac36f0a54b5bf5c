package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/fingerprint"
	"github.com/maiazelda/vinted-lens-project/internal/infrastructure/storage"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

// fakeSearcher serves canned pages. Pages past the slice come back empty, the
// same way an exhausted catalog does.
type fakeSearcher struct {
	pages    [][]domain.CatalogItem
	pageErrs map[int]error
	calls    []int
}

func (f *fakeSearcher) SearchItems(_ context.Context, _ string, page, _ int) ([]domain.CatalogItem, error) {
	return f.page(page)
}

func (f *fakeSearcher) SearchByParams(_ context.Context, params map[string]string, _ string) ([]domain.CatalogItem, error) {
	page, _ := strconv.Atoi(params["page"])
	return f.page(page)
}

func (f *fakeSearcher) page(page int) ([]domain.CatalogItem, error) {
	f.calls = append(f.calls, page)
	if err := f.pageErrs[page]; err != nil {
		return nil, err
	}
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

// fakeImages returns the image URL itself as the image bytes, so the embedder
// can key its behavior off the URL.
type fakeImages struct {
	errs map[string]error
}

func (f *fakeImages) Fetch(_ context.Context, imageURL string) ([]byte, error) {
	if err := f.errs[imageURL]; err != nil {
		return nil, err
	}
	return []byte(imageURL), nil
}

// fakeEmbedder picks a vector per image payload; unknown payloads get a valid
// unit-direction vector.
type fakeEmbedder struct {
	byImage map[string][]float32
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	if vec, ok := f.byImage[string(image)]; ok {
		return vec, nil
	}
	return vecOf(domain.FingerprintDim), nil
}

// flakyStore fails the first commits and then delegates to the real store.
type flakyStore struct {
	*storage.Memory
	failures int
}

func (f *flakyStore) Commit(ctx context.Context, listings []domain.Listing, fingerprints []domain.Fingerprint) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Memory.Commit(ctx, listings, fingerprints)
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) ExistingIDs(context.Context, []int64) (map[int64]bool, error) {
	return nil, errors.New("database unreachable")
}
func (brokenStore) Commit(context.Context, []domain.Listing, []domain.Fingerprint) error {
	return errors.New("database unreachable")
}
func (brokenStore) QuerySimilar(context.Context, []float32, int, ports.Filters) ([]domain.Match, error) {
	return nil, errors.New("database unreachable")
}

func vecOf(n int) []float32 {
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = 1
	}
	return vec
}

func rawItem(id int64, imageURL string) domain.CatalogItem {
	it := domain.CatalogItem{
		"id":    float64(id),
		"title": fmt.Sprintf("item %d", id),
		"price": map[string]any{"amount": 10.0},
	}
	if imageURL != "" {
		it["photo"] = map[string]any{"full_size_url": imageURL}
	}
	return it
}

func newTestPipeline(searcher ports.CatalogSearcher, store ports.VectorStore, embedder ports.Embedder, imgErrs map[string]error) *Pipeline {
	return NewPipeline(PipelineDeps{
		Searcher:      searcher,
		Store:         store,
		Images:        &fakeImages{errs: imgErrs},
		Generator:     fingerprint.NewGenerator(embedder),
		ImageWorkers:  2,
		DownloadDelay: time.Microsecond,
	})
}

func TestRunSkipReasons(t *testing.T) {
	t.Parallel()

	// A has no photo, B embeds into the wrong shape, C is fully valid.
	searcher := &fakeSearcher{pages: [][]domain.CatalogItem{{
		rawItem(101, ""),
		rawItem(102, "https://img/b.jpg"),
		rawItem(103, "https://img/c.jpg"),
	}}}
	embedder := &fakeEmbedder{byImage: map[string][]float32{
		"https://img/b.jpg": vecOf(256),
	}}
	store := storage.NewMemory()

	p := newTestPipeline(searcher, store, embedder, nil)
	summary, err := p.Run(context.Background(), Target{Name: "robes", Query: "robe"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Seen)
	assert.Equal(t, 3, summary.Kept)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, map[string]int{SkipMissingImage: 1, SkipBadPrint: 1}, summary.Skipped)
	assert.Equal(t, 1, store.Len())

	existing, err := store.ExistingIDs(context.Background(), []int64{101, 102, 103})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{103: true}, existing)
}

func TestRunDedup(t *testing.T) {
	t.Parallel()

	page := []domain.CatalogItem{rawItem(201, "https://img/a.jpg"), rawItem(202, "https://img/b.jpg")}
	store := storage.NewMemory()
	embedder := &fakeEmbedder{}

	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{page}}, store, embedder, nil)
	summary, err := p.Run(context.Background(), Target{Query: "robe"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)

	// Same page again: everything dedups, nothing new lands.
	p = newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{page}}, store, embedder, nil)
	summary, err = p.Run(context.Background(), Target{Query: "robe"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 2, summary.Deduped)
	assert.Equal(t, 2, store.Len())
}

func TestRunRecencyFilter(t *testing.T) {
	t.Parallel()

	stale := rawItem(301, "https://img/old.jpg")
	stale["created_at_ts"] = float64(time.Now().Add(-100 * 24 * time.Hour).Unix())
	fresh := rawItem(302, "https://img/new.jpg")
	fresh["created_at_ts"] = float64(time.Now().Add(-time.Hour).Unix())

	store := storage.NewMemory()
	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{{stale, fresh}}}, store, &fakeEmbedder{}, nil)
	summary, err := p.Run(context.Background(), Target{Query: "robe", Lookback: 30 * 24 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 1, summary.Kept)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, store.Len())
}

func TestRunMissingIDCounted(t *testing.T) {
	t.Parallel()

	orphan := domain.CatalogItem{"title": "sans id"}
	store := storage.NewMemory()
	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{{orphan, rawItem(401, "https://img/x.jpg")}}}, store, &fakeEmbedder{}, nil)
	summary, err := p.Run(context.Background(), Target{Query: "robe"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped[SkipNoID])
	assert.Equal(t, 1, summary.Inserted)
}

func TestRunImageDownloadFailure(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	imgErrs := map[string]error{"https://img/gone.jpg": errors.New("404")}
	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{{
		rawItem(501, "https://img/gone.jpg"),
		rawItem(502, "https://img/ok.jpg"),
	}}}, store, &fakeEmbedder{}, imgErrs)

	summary, err := p.Run(context.Background(), Target{Query: "robe"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped[SkipImageDownload])
	assert.Equal(t, 1, summary.Inserted)
}

func TestRunPageFailureSkipsPage(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{
		pages:    [][]domain.CatalogItem{{rawItem(601, "https://img/a.jpg")}, {rawItem(602, "https://img/b.jpg")}},
		pageErrs: map[int]error{1: errors.New("captcha wall")},
	}
	store := storage.NewMemory()
	p := newTestPipeline(searcher, store, &fakeEmbedder{}, nil)

	summary, err := p.Run(context.Background(), Target{Query: "robe", MaxPages: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted, "page 2 must still be ingested")
	assert.Equal(t, []int{1, 2}, searcher.calls)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{pages: [][]domain.CatalogItem{{rawItem(701, "https://img/a.jpg")}}}
	p := newTestPipeline(searcher, storage.NewMemory(), &fakeEmbedder{}, nil)

	_, err := p.Run(context.Background(), Target{Query: "robe", MaxPages: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, searcher.calls, "run must stop at the first empty page")
}

func TestRunCatalogIDTarget(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{pages: [][]domain.CatalogItem{{rawItem(801, "https://img/a.jpg")}}}
	p := newTestPipeline(searcher, storage.NewMemory(), &fakeEmbedder{}, nil)

	summary, err := p.Run(context.Background(), Target{Name: "robes", CatalogID: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
}

func TestCommitRetries(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Memory: storage.NewMemory(), failures: 1}
	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{{rawItem(901, "https://img/a.jpg")}}}, store, &fakeEmbedder{}, nil)

	summary, err := p.Run(context.Background(), Target{Query: "robe"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, store.Len())
}

func TestStoreFailureFatal(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&fakeSearcher{pages: [][]domain.CatalogItem{{rawItem(1001, "https://img/a.jpg")}}}, brokenStore{}, &fakeEmbedder{}, nil)

	summary, err := p.Run(context.Background(), Target{Query: "robe"})
	require.Error(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Equal(t, 0, summary.Inserted)
}

func TestSummaryMergeAndString(t *testing.T) {
	t.Parallel()

	a := &Summary{Seen: 3, Kept: 2, Inserted: 1, Skipped: map[string]int{SkipNoID: 1}}
	b := &Summary{Seen: 2, Deduped: 1, Skipped: map[string]int{SkipNoID: 1, SkipMissingImage: 1}}
	a.Merge(b)

	assert.Equal(t, 5, a.Seen)
	assert.Equal(t, 2, a.Skipped[SkipNoID])
	assert.Equal(t,
		"seen=5 kept=2 deduped=1 inserted=1 skipped_missing_image=1 skipped_no_id=2",
		a.String())
}
