package zip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
)

// Source opens stored assets by key.
type Source interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// WriteArchive streams the assets named by keys into a zip archive on w.
// Each entry is named after the last element of its key. Keys that cannot be
// opened are skipped; it returns the number of entries written.
func WriteArchive(ctx context.Context, w io.Writer, src Source, keys []string) (int, error) {
	zw := zip.NewWriter(w)
	written := 0
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		name := path.Base(key)
		if _, dup := seen[name]; dup {
			continue
		}
		rc, err := src.Open(ctx, key)
		if err != nil {
			continue
		}
		entry, err := zw.Create(name)
		if err != nil {
			rc.Close()
			return written, fmt.Errorf("zip: create %s: %w", name, err)
		}
		_, err = io.Copy(entry, rc)
		rc.Close()
		if err != nil {
			return written, fmt.Errorf("zip: write %s: %w", name, err)
		}
		seen[name] = struct{}{}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("zip: finish archive: %w", err)
	}
	return written, nil
}
