package jobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatalf("new fs: %v", err)
	}
	return s
}

func writeJob(t *testing.T, s *FS, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(s.Root(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	for f, body := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s/%s: %v", name, f, err)
		}
	}
}

func TestFSListSkipsHiddenEntries(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	writeJob(t, s, "b", nil)
	writeJob(t, s, "a", nil)
	writeJob(t, s, ".removed-c-1234", nil)
	if err := os.WriteFile(filepath.Join(s.Root(), "stray.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Fatalf("names = %v, want [a b]", names)
	}
}

func TestFSClaimBidsRelease(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	writeJob(t, s, "B", map[string]string{"calc_x.in": "", "100.bid": ""})
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.Claim(ctx, "B", job.Bid{Identity: 205, Session: "s-205", Created: now}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	bids, err := s.Bids(ctx, "B")
	if err != nil {
		t.Fatalf("bids: %v", err)
	}
	if len(bids) != 2 || bids[0].Identity != 100 || bids[1].Identity != 205 {
		t.Fatalf("unexpected bids %+v", bids)
	}
	if bids[1].Session != "s-205" || !bids[1].Created.Equal(now) {
		t.Fatalf("bid body not decoded: %+v", bids[1])
	}
	files, err := s.Files(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "calc_x.in" {
		t.Fatalf("bids or temp files leaked into Files: %v", files)
	}
	if err := s.Release(ctx, "B", 205); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.Release(ctx, "B", 205); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	bids, _ = s.Bids(ctx, "B")
	if len(bids) != 1 {
		t.Fatalf("expected one bid after release, got %+v", bids)
	}
}

func TestFSClaimOnVanishedJob(t *testing.T) {
	s := newTestFS(t)
	err := s.Claim(context.Background(), "gone", job.Bid{Identity: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSWriteReadAndArchive(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	writeJob(t, s, "A", map[string]string{"calc_x.in": "a 1\n", "7.bid": ""})
	if err := os.MkdirAll(filepath.Join(s.Root(), "A", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), "A", "sub", "data.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile(ctx, "A", "record.json", []byte(`{"status":"finished"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := s.ReadFile(ctx, "A", "record.json")
	if err != nil || string(data) != `{"status":"finished"}` {
		t.Fatalf("read back %q, %v", data, err)
	}
	if _, err := s.ReadFile(ctx, "A", "../escape"); err == nil {
		t.Fatalf("expected path escape to be rejected")
	}
	archive, err := s.Archive(ctx, "A")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	files, err := ArchiveFiles(archive)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	for _, want := range []string{"A/calc_x.in", "A/7.bid", "A/record.json", "A/sub/data.txt"} {
		if _, ok := files[want]; !ok {
			t.Fatalf("archive missing %s: %v", want, files)
		}
	}
	for name := range files {
		if strings.Contains(name, tempMarker) {
			t.Fatalf("temp file %s archived", name)
		}
	}
}

func TestFSRemove(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	writeJob(t, s, "A", map[string]string{"calc_x.in": "", "3.bid": ""})
	if err := s.Remove(ctx, "A"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := s.Exists(ctx, "A"); ok {
		t.Fatalf("job still exists after remove")
	}
	if err := s.Remove(ctx, "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Fatalf("tombstone left behind: %v", entries)
	}
}

func TestFSLastModifiedIgnoresBids(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()
	writeJob(t, s, "A", map[string]string{"calc_x.in": ""})
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(s.Root(), "A", "calc_x.in"), old, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Claim(ctx, "A", job.Bid{Identity: 9}); err != nil {
		t.Fatal(err)
	}
	got, err := s.LastModified(ctx, "A")
	if err != nil {
		t.Fatalf("last modified: %v", err)
	}
	if got.After(old.Add(time.Second)) {
		t.Fatalf("bid marker counted as modification: %v", got)
	}
}

func TestMemoryMirrorsFSContract(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Add("A", map[string]string{"calc_x.in": "", "12.bid": ""})
	bids, err := m.Bids(ctx, "A")
	if err != nil || len(bids) != 1 || bids[0].Identity != 12 {
		t.Fatalf("bids = %+v, %v", bids, err)
	}
	files, _ := m.Files(ctx, "A")
	if len(files) != 1 {
		t.Fatalf("bid leaked into files: %v", files)
	}
	archive, err := m.Archive(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	unpacked, err := ArchiveFiles(archive)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := unpacked["A/12.bid"]; !ok {
		t.Fatalf("bid missing from memory archive: %v", unpacked)
	}
	if err := m.Remove(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := m.Claim(ctx, "A", job.Bid{Identity: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
