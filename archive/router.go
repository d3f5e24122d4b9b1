// Package archive places attachment payloads into their outcome directories
// under a common base, never overwriting an existing file.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// Category names a destination directory for archived files.
type Category string

const (
	CatTemp           Category = "temp"
	CatProcessed      Category = "mails_procesados"
	CatError          Category = "mails_error"
	CatDuplicate      Category = "mails_duplicados"
	CatPdfProcessed   Category = "PDFs_procesados"
	CatPdfUnprocessed Category = "PDFs_no_procesados"
)

// Categories lists every destination the router manages, in report order.
var Categories = []Category{
	CatTemp,
	CatProcessed,
	CatError,
	CatDuplicate,
	CatPdfProcessed,
	CatPdfUnprocessed,
}

// Router writes and relocates files under a base directory. All category
// directories are created eagerly by New.
type Router struct {
	base string
}

func New(base string) (*Router, error) {
	if base == "" {
		return nil, fmt.Errorf("archive base directory is empty")
	}

	for _, cat := range Categories {
		if err := os.MkdirAll(filepath.Join(base, string(cat)), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cat, err)
		}
	}

	return &Router{base: base}, nil
}

// Dir returns the absolute directory for a category.
func (r *Router) Dir(cat Category) string {
	return filepath.Join(r.base, string(cat))
}

// Place writes data to a fresh unique path under the category directory and
// returns the path chosen.
func (r *Router) Place(data []byte, cat Category, filename string) (string, error) {
	path := r.uniquePath(cat, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Move relocates an existing file into the category directory, applying the
// same uniqueness policy at the destination.
func (r *Router) Move(src string, cat Category, filename string) (string, error) {
	dest := r.uniquePath(cat, filename)
	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", src, dest, err)
	}
	return dest, nil
}

// uniquePath picks a path that does not exist yet, resolving collisions by
// appending _1, _2, ... before the extension. The stat-then-use window is
// harmless under the single sequential worker this process runs.
func (r *Router) uniquePath(cat Category, filename string) string {
	dir := r.Dir(cat)
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(filename)
	stem := filename[:len(filename)-len(ext)]
	for counter := 1; ; counter++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}
