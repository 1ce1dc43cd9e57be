package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

const (
	recordExt  = ".json"
	archiveExt = ".tar.gz"
)

// FS is the LibraryStore backed by the shared library directory.
type FS struct {
	root string
}

// NewFS opens the library directory, creating it when absent.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("library: library directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("library: ensure library directory: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the library directory.
func (s *FS) Root() string {
	return s.root
}

// RecordPath returns where a record is stored.
func (s *FS) RecordPath(rec job.Record) (string, error) {
	segments, err := recordSegments(rec)
	if err != nil {
		return "", err
	}
	parts := append([]string{s.root}, segments...)
	parts = append(parts, rec.Key+recordExt)
	return filepath.Join(parts...), nil
}

func (s *FS) Find(ctx context.Context, name string) (job.Record, error) {
	if err := job.ValidSegment(name); err != nil {
		return job.Record{}, fmt.Errorf("library: find: %w", err)
	}
	target := name + recordExt
	var found string
	errFound := errors.New("found")
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p == s.root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if filepath.Dir(p) == s.root && d.Name() == OrphanDir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == target {
			found = p
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return job.Record{}, fmt.Errorf("library: find %s: %w", name, err)
	}
	if found == "" {
		return job.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(found)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return job.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return job.Record{}, fmt.Errorf("library: read %s: %w", found, err)
	}
	rec, err := job.ParseRecord(data)
	if err != nil {
		return job.Record{}, fmt.Errorf("library: %s: %w", found, err)
	}
	if rec.Key == "" {
		rec.Key = name
	}
	return rec, nil
}

func (s *FS) Store(ctx context.Context, rec job.Record, archive []byte) error {
	path, err := s.RecordPath(rec)
	if err != nil {
		return err
	}
	data, err := job.EncodeRecord(rec)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("library: ensure %s: %w", dir, err)
	}
	if archive != nil {
		if err := writeAtomic(dir, rec.Key+archiveExt, archive); err != nil {
			return err
		}
	}
	return writeAtomic(dir, rec.Key+recordExt, data)
}

func (s *FS) Orphan(ctx context.Context, name string, archive []byte) error {
	if err := job.ValidSegment(name); err != nil {
		return fmt.Errorf("library: orphan: %w", err)
	}
	dir := filepath.Join(s.root, OrphanDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("library: ensure %s: %w", dir, err)
	}
	return writeAtomic(dir, name+archiveExt, archive)
}

func (s *FS) Orphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, OrphanDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("library: list orphans: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !strings.HasSuffix(entry.Name(), archiveExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), archiveExt))
	}
	sort.Strings(names)
	return names, nil
}

func writeAtomic(dir, file string, data []byte) error {
	tmp := filepath.Join(dir, "."+file+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("library: write %s: %w", file, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, file)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("library: commit %s: %w", file, err)
	}
	return nil
}
