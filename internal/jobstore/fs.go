package jobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

const (
	tempMarker      = ".tmp-"
	tombstonePrefix = ".removed-"
)

// FS is the JobStore backed by a (possibly network mounted) run directory.
type FS struct {
	root string
}

// NewFS opens the run directory, creating it when absent.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("jobstore: run directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("jobstore: ensure run directory: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the run directory.
func (s *FS) Root() string {
	return s.root
}

func (s *FS) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list %s: %w", s.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *FS) Exists(ctx context.Context, name string) (bool, error) {
	dir, err := s.jobDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("jobstore: stat %s: %w", name, err)
	}
	return info.IsDir(), nil
}

func (s *FS) Dir(name string) string {
	dir, err := s.jobDir(name)
	if err != nil {
		return ""
	}
	return dir
}

func (s *FS) Files(ctx context.Context, name string) ([]string, error) {
	entries, err := s.readJobDir(name)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || hiddenOrBid(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

func (s *FS) LastModified(ctx context.Context, name string) (time.Time, error) {
	entries, err := s.readJobDir(name)
	if err != nil {
		return time.Time{}, err
	}
	var newest time.Time
	for _, entry := range entries {
		if hiddenOrBid(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !newest.IsZero() {
		return newest, nil
	}
	info, err := os.Stat(s.Dir(name))
	if err != nil {
		return time.Time{}, s.notFound(name, err)
	}
	return info.ModTime(), nil
}

func (s *FS) ReadFile(ctx context.Context, name, file string) ([]byte, error) {
	dir, err := s.jobDir(name)
	if err != nil {
		return nil, err
	}
	if err := validName("file", file); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if ok, _ := s.Exists(ctx, name); !ok {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			}
		}
		return nil, fmt.Errorf("jobstore: read %s/%s: %w", name, file, err)
	}
	return data, nil
}

func (s *FS) WriteFile(ctx context.Context, name, file string, data []byte) error {
	dir, err := s.jobDir(name)
	if err != nil {
		return err
	}
	if err := validName("file", file); err != nil {
		return err
	}
	return s.writeAtomic(name, dir, file, data)
}

func (s *FS) Bids(ctx context.Context, name string) ([]job.Bid, error) {
	entries, err := s.readJobDir(name)
	if err != nil {
		return nil, err
	}
	dir := s.Dir(name)
	var bids []job.Bid
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), job.BidSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// released between listing and stat
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			body = nil
		}
		if b, ok := job.DecodeBid(entry.Name(), body, info.ModTime()); ok {
			bids = append(bids, b)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Identity < bids[j].Identity })
	return bids, nil
}

func (s *FS) Claim(ctx context.Context, name string, bid job.Bid) error {
	dir, err := s.jobDir(name)
	if err != nil {
		return err
	}
	body, err := job.EncodeBid(bid)
	if err != nil {
		return err
	}
	return s.writeAtomic(name, dir, job.BidFileName(bid.Identity), body)
}

func (s *FS) Release(ctx context.Context, name string, identity int64) error {
	dir, err := s.jobDir(name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, job.BidFileName(identity)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("jobstore: release bid %d on %s: %w", identity, name, err)
	}
	return nil
}

func (s *FS) Archive(ctx context.Context, name string) ([]byte, error) {
	dir, err := s.jobDir(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, s.notFound(name, err)
	}
	var entries []tarEntry
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if strings.Contains(d.Name(), tempMarker) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := tarEntry{
			name:    filepath.ToSlash(filepath.Join(name, rel)),
			mode:    int64(info.Mode().Perm()),
			modTime: info.ModTime(),
			dir:     d.IsDir(),
		}
		if rel == "." {
			entry.name = name
		}
		if !d.IsDir() {
			if !info.Mode().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			entry.data = data
		}
		entries = append(entries, entry)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("jobstore: snapshot %s: %w", name, walkErr)
	}
	return writeTarGz(entries)
}

// Remove renames the job out of the listing first, then deletes the tombstone.
func (s *FS) Remove(ctx context.Context, name string) error {
	dir, err := s.jobDir(name)
	if err != nil {
		return err
	}
	tomb := filepath.Join(s.root, tombstonePrefix+name+"-"+uuid.NewString())
	if err := os.Rename(dir, tomb); err != nil {
		return s.notFound(name, err)
	}
	// The job already left the queue; a tombstone that fails to purge is
	// invisible to listings and is retried by Sweep.
	_ = os.RemoveAll(tomb)
	return nil
}

// Sweep deletes tombstones left behind by interrupted removals.
func (s *FS) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("jobstore: sweep %s: %w", s.root, err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), tombstonePrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("jobstore: sweep %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *FS) jobDir(name string) (string, error) {
	if err := validName("job", name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func (s *FS) readJobDir(name string) ([]os.DirEntry, error) {
	dir, err := s.jobDir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, s.notFound(name, err)
	}
	return entries, nil
}

func (s *FS) writeAtomic(name, dir, file string, data []byte) error {
	tmp := filepath.Join(dir, "."+file+tempMarker+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return s.notFound(name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, file)); err != nil {
		_ = os.Remove(tmp)
		return s.notFound(name, err)
	}
	return nil
}

func (s *FS) notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("jobstore: %s: %w", name, err)
}

func hiddenOrBid(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, job.BidSuffix)
}
