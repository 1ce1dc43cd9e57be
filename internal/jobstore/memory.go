package jobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

// Memory is an in-process JobStore for deterministic tests.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*memJob
	now  func() time.Time
}

type memJob struct {
	files    map[string][]byte
	bids     map[int64]job.Bid
	modified time.Time
}

// MemoryOption customizes a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for modification times.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{jobs: map[string]*memJob{}, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add queues a job with the given files, replacing any existing job of the
// same name.
func (m *Memory) Add(name string, files map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &memJob{files: map[string][]byte{}, bids: map[int64]job.Bid{}, modified: m.now()}
	for f, body := range files {
		if id, ok := job.ParseBidFileName(f); ok {
			b, _ := job.DecodeBid(f, []byte(body), j.modified)
			j.bids[id] = b
			continue
		}
		j.files[f] = []byte(body)
	}
	m.jobs[name] = j
}

// Len reports the number of queued jobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok, nil
}

func (m *Memory) Dir(name string) string {
	return ""
}

func (m *Memory) Files(ctx context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(j.files))
	for f := range j.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (m *Memory) LastModified(ctx context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return time.Time{}, err
	}
	return j.modified, nil
}

func (m *Memory) ReadFile(ctx context.Context, name, file string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return nil, err
	}
	data, ok := j.files[file]
	if !ok {
		return nil, fmt.Errorf("jobstore: read %s/%s: file does not exist", name, file)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) WriteFile(ctx context.Context, name, file string, data []byte) error {
	if err := validName("file", file); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return err
	}
	j.files[file] = append([]byte(nil), data...)
	j.modified = m.now()
	return nil
}

func (m *Memory) Bids(ctx context.Context, name string) ([]job.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return nil, err
	}
	bids := make([]job.Bid, 0, len(j.bids))
	for _, b := range j.bids {
		bids = append(bids, b)
	}
	sort.Slice(bids, func(a, b int) bool { return bids[a].Identity < bids[b].Identity })
	return bids, nil
}

func (m *Memory) Claim(ctx context.Context, name string, bid job.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return err
	}
	bid.Modified = m.now()
	j.bids[bid.Identity] = bid
	return nil
}

func (m *Memory) Release(ctx context.Context, name string, identity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return err
	}
	delete(j.bids, identity)
	return nil
}

func (m *Memory) Archive(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.get(name)
	if err != nil {
		return nil, err
	}
	entries := []tarEntry{{name: name, dir: true, mode: 0o755, modTime: j.modified}}
	files := make([]string, 0, len(j.files))
	for f := range j.files {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		entries = append(entries, tarEntry{name: name + "/" + f, mode: 0o644, modTime: j.modified, data: j.files[f]})
	}
	for _, b := range j.bids {
		body, err := job.EncodeBid(b)
		if err != nil {
			return nil, err
		}
		entries = append(entries, tarEntry{name: name + "/" + job.BidFileName(b.Identity), mode: 0o644, modTime: b.Modified, data: body})
	}
	return writeTarGz(entries)
}

func (m *Memory) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(name); err != nil {
		return err
	}
	delete(m.jobs, name)
	return nil
}

func (m *Memory) get(name string) (*memJob, error) {
	j, ok := m.jobs[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return j, nil
}
