// Package normalize turns loosely-shaped catalog payloads into canonical
// listing records. The source renames fields between releases, so every lookup
// is a chain of fallbacks that degrades to a default instead of failing.
package normalize

import (
	"errors"
	"strconv"
	"time"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
)

// ErrNoID marks an item that carries no resolvable listing id. Such items are
// dropped before any further processing.
var ErrNoID = errors.New("item has no resolvable id")

// Item builds a Listing from one raw catalog record. Only the id is required;
// every other field falls back to a zero value or, for timestamps, to now.
func Item(it domain.CatalogItem) (domain.Listing, error) {
	id, ok := PickID(it)
	if !ok {
		return domain.Listing{}, ErrNoID
	}

	created, updated := PickCreatedUpdated(it, time.Now().UTC())

	return domain.Listing{
		ID:        id,
		Title:     PickTitle(it),
		Price:     PickPrice(it),
		Platform:  domain.PlatformVinted,
		ImageURL:  PickImageURL(it),
		Category:  PickCategory(it),
		Color:     PickColor(it),
		Brand:     PickBrand(it),
		Size:      PickSize(it),
		Condition: PickCondition(it),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// WithinLookback keeps a listing whose created or updated timestamp falls
// inside the window. Items whose timestamps were unrecoverable default to now
// and therefore pass, which is the conservative choice.
func WithinLookback(l domain.Listing, since time.Time) bool {
	return !l.CreatedAt.Before(since) || !l.UpdatedAt.Before(since)
}

// PickID resolves the numeric listing id, tolerating the number/string
// representations the JSON decoder may produce.
func PickID(it domain.CatalogItem) (int64, bool) {
	switch v := it["id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// PickTitle falls back to the description when the title is absent.
func PickTitle(it domain.CatalogItem) string {
	if s := stringField(it, "title"); s != "" {
		return s
	}
	return stringField(it, "description")
}

// PickImageURL resolves the photo URL: primary photo object first
// (full_size_url then url), then the first element of the photos collection
// with the same key order. Empty means the listing has no usable image.
func PickImageURL(it domain.CatalogItem) string {
	if photo, ok := it["photo"].(map[string]any); ok {
		for _, k := range []string{"full_size_url", "url"} {
			if s, ok := photo[k].(string); ok && s != "" {
				return s
			}
		}
	}
	if photos, ok := it["photos"].([]any); ok && len(photos) > 0 {
		if first, ok := photos[0].(map[string]any); ok {
			for _, k := range []string{"full_size_url", "url"} {
				if s, ok := first[k].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// PickPrice reads price.amount; anything non-numeric becomes 0.
func PickPrice(it domain.CatalogItem) float64 {
	price, ok := it["price"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := price["amount"].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

// PickBrand prefers the flat brand_title field over the nested brand object.
func PickBrand(it domain.CatalogItem) string {
	if s := stringField(it, "brand_title"); s != "" {
		return s
	}
	return nestedTitle(it, "brand")
}

// PickSize prefers the flat size_title field over the nested size object.
func PickSize(it domain.CatalogItem) string {
	if s := stringField(it, "size_title"); s != "" {
		return s
	}
	return nestedTitle(it, "size")
}

// PickCondition reads the nested condition object's title, then the flat
// condition or status string.
func PickCondition(it domain.CatalogItem) string {
	if cond, ok := it["condition"].(map[string]any); ok {
		if s, ok := cond["title"].(string); ok {
			return s
		}
		return ""
	}
	if s := stringField(it, "condition"); s != "" {
		return s
	}
	return stringField(it, "status")
}

// PickCategory joins the nested category's parent title and title with " > ",
// skipping absent parts.
func PickCategory(it domain.CatalogItem) string {
	cat, ok := it["category"].(map[string]any)
	if !ok {
		return ""
	}
	var path string
	for _, k := range []string{"parent_title", "title"} {
		if s, ok := cat[k].(string); ok && s != "" {
			if path != "" {
				path += " > "
			}
			path += s
		}
	}
	return path
}

// PickColor tolerates both the British and American spelling.
func PickColor(it domain.CatalogItem) string {
	if s := stringField(it, "colour"); s != "" {
		return s
	}
	return stringField(it, "color")
}

// PickCreatedUpdated resolves the pair of timestamps. Epoch-second fields win
// over ISO-8601 strings; an unparsable created defaults to now, an unparsable
// updated defaults to created. Both are returned in UTC.
func PickCreatedUpdated(it domain.CatalogItem, now time.Time) (time.Time, time.Time) {
	created, ok := pickTime(it, "created_at_ts", "created_at")
	if !ok {
		created = now
	}
	updated, ok := pickTime(it, "updated_at_ts", "updated_at")
	if !ok {
		updated = created
	}
	return created.UTC(), updated.UTC()
}

func pickTime(it domain.CatalogItem, tsKey, isoKey string) (time.Time, bool) {
	if ts, ok := it[tsKey].(float64); ok && ts > 0 {
		return time.Unix(int64(ts), 0).UTC(), true
	}
	v, ok := it[isoKey].(string)
	if !ok || len(v) < 10 {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringField(it domain.CatalogItem, key string) string {
	s, _ := it[key].(string)
	return s
}

func nestedTitle(it domain.CatalogItem, key string) string {
	obj, ok := it[key].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj["title"].(string)
	return s
}
