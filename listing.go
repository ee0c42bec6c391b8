// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MediaEntry is one listed media file. Entries are built per request and never cached.
type MediaEntry struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Extension string    `json:"extension"`
	Kind      MediaKind `json:"kind"`
}

// Lister enumerates the media directory.
type Lister struct {
	dir string
}

// NewLister returns a Lister for dir. The directory is created on first use.
func NewLister(dir string) *Lister {
	return &Lister{dir: dir}
}

// List returns the mp3 and mp4 files directly inside the media directory, most recently
// modified first; equal timestamps are ordered by name. Filesystem errors are logged and
// yield an empty listing.
func (l *Lister) List(ctx context.Context) []MediaEntry {
	entries, err := l.scan(ctx)
	if err != nil {
		logger.Error("Failed to read media directory", "dir", l.dir, "error_kind", errorKind(err), "error", err)
		return []MediaEntry{}
	}
	return entries
}

func (l *Lister) scan(ctx context.Context) ([]MediaEntry, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading media directory: %w", err)
	}

	files := make([]MediaEntry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.Type().IsRegular() {
			continue
		}
		ext, kind, ok := mediaKindFor(d.Name())
		if !ok {
			continue
		}
		info, err := os.Stat(filepath.Join(l.dir, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", d.Name(), err)
		}
		files = append(files, MediaEntry{
			Name:      d.Name(),
			URL:       routeFilesPrefix + url.PathEscape(d.Name()),
			Size:      info.Size(),
			Modified:  info.ModTime(),
			Extension: ext,
			Kind:      kind,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// errorKind condenses a filesystem error into a log attribute.
func errorKind(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "not_exist"
	case errors.Is(err, fs.ErrPermission):
		return "permission"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "io"
	}
}
