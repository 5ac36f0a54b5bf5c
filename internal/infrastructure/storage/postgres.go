package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
	"github.com/maiazelda/vinted-lens-project/internal/fingerprint"
	"github.com/maiazelda/vinted-lens-project/internal/ports"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS listings (
    id         BIGINT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    price      DOUBLE PRECISION NOT NULL DEFAULT 0,
    platform   TEXT NOT NULL DEFAULT '',
    image_url  TEXT NOT NULL DEFAULT '',
    category   TEXT NOT NULL DEFAULT '',
    color      TEXT NOT NULL DEFAULT '',
    brand      TEXT NOT NULL DEFAULT '',
    size       TEXT NOT NULL DEFAULT '',
    condition  TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fingerprints (
    listing_id BIGINT PRIMARY KEY REFERENCES listings (id),
    vector     REAL[] NOT NULL,
    norm       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS listings_platform_category_idx
    ON listings (platform, category);
`

// Postgres persists listings and fingerprints in two relations and answers
// similarity queries with an exact scan over the filtered fingerprints.
// Commits are idempotent by primary key (ON CONFLICT DO NOTHING), so the
// pipeline's exists-check is an optimization, not a correctness requirement.
type Postgres struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ ports.VectorStore = (*Postgres)(nil)

// NewPostgres connects a pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// ExistingIDs returns the subset of ids already present in the listings table.
// An empty input short-circuits without a round trip.
func (p *Postgres) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := map[int64]bool{}
	if len(ids) == 0 {
		return existing, nil
	}

	query, args, err := p.sb.
		Select("id").
		From("listings").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build exists query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return existing, nil
}

// Commit writes both batches inside one transaction so a listing and its
// fingerprint land together or not at all. Already-present ids are skipped.
func (p *Postgres) Commit(ctx context.Context, listings []domain.Listing, fingerprints []domain.Fingerprint) error {
	if len(listings) == 0 && len(fingerprints) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(listings) > 0 {
		builder := p.sb.
			Insert("listings").
			Columns("id", "title", "price", "platform", "image_url",
				"category", "color", "brand", "size", "condition",
				"created_at", "updated_at").
			Suffix("ON CONFLICT (id) DO NOTHING")
		for _, l := range listings {
			builder = builder.Values(l.ID, l.Title, l.Price, l.Platform, l.ImageURL,
				l.Category, l.Color, l.Brand, l.Size, l.Condition,
				l.CreatedAt, l.UpdatedAt)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build listings insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert listings: %w", err)
		}
	}

	if len(fingerprints) > 0 {
		builder := p.sb.
			Insert("fingerprints").
			Columns("listing_id", "vector", "norm").
			Suffix("ON CONFLICT (listing_id) DO NOTHING")
		for _, fp := range fingerprints {
			builder = builder.Values(fp.ListingID, fp.Vector, fp.Norm)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build fingerprints insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert fingerprints: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// QuerySimilar loads the filtered fingerprints and scores them in Go: cosine
// is dot / (storedNorm * queryNorm), dividing by the true stored norm rather
// than assuming writers normalized. Zero-norm rows are excluded in SQL.
func (p *Postgres) QuerySimilar(ctx context.Context, vector []float32, limit int, filters ports.Filters) ([]domain.Match, error) {
	queryNorm := fingerprint.Norm(vector)
	if queryNorm == 0 || queryNorm != queryNorm {
		return nil, ErrBadQueryVector
	}

	builder := p.sb.
		Select("l.id", "l.title", "l.price", "l.platform", "l.image_url",
			"l.category", "l.color", "l.brand", "l.size", "l.condition",
			"l.created_at", "l.updated_at", "f.vector", "f.norm").
		From("listings l").
		Join("fingerprints f ON f.listing_id = l.id").
		Where("f.norm > 0")
	if filters.Platform != "" {
		builder = builder.Where(sq.Eq{"l.platform": filters.Platform})
	}
	if filters.Category != "" {
		builder = builder.Where(sq.Eq{"l.category": filters.Category})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build similarity query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			l    domain.Listing
			vec  []float32
			norm float32
		)
		if err := rows.Scan(&l.ID, &l.Title, &l.Price, &l.Platform, &l.ImageURL,
			&l.Category, &l.Color, &l.Brand, &l.Size, &l.Condition,
			&l.CreatedAt, &l.UpdatedAt, &vec, &norm); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		score := fingerprint.Dot(vec, vector) / (norm * queryNorm)
		matches = append(matches, domain.Match{Listing: l, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	sortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
