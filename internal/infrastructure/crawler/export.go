package crawler

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/maiazelda/vinted-lens-project/internal/domain"
)

// WriteCSV exports the discovered hierarchy as a flat table. Callers pass the
// nodes already sorted by (level, parent id, id) so the output is deterministic.
func WriteCSV(path string, nodes []domain.CategoryNode) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "slug", "name", "url", "parent_id", "path", "level"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, n := range nodes {
		record := []string{
			strconv.FormatInt(n.ID, 10),
			n.Slug,
			n.Name,
			n.URL,
			strconv.FormatInt(n.ParentID, 10),
			n.Path,
			strconv.Itoa(n.Level),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write category %d: %w", n.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
