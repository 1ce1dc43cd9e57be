package library

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

// ErrUnavailable is what Memory returns while writes are failing.
var ErrUnavailable = errors.New("library: destination unavailable")

// Memory is an in-process LibraryStore for tests.
type Memory struct {
	mu         sync.Mutex
	records    map[string]job.Record
	archives   map[string][]byte
	orphans    map[string][]byte
	failWrites bool
	writes     int
}

// NewMemory returns an empty library.
func NewMemory() *Memory {
	return &Memory{
		records:  map[string]job.Record{},
		archives: map[string][]byte{},
		orphans:  map[string][]byte{},
	}
}

// Put seeds a record directly.
func (m *Memory) Put(rec job.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = rec.Clone()
}

// FailWrites makes Store and Orphan fail until reset.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Writes counts successful Store calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Archive returns the stored snapshot for a finished job.
func (m *Memory) Archive(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.archives[name]
	return data, ok
}

// OrphanArchive returns the orphan snapshot for a job.
func (m *Memory) OrphanArchive(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.orphans[name]
	return data, ok
}

func (m *Memory) Find(ctx context.Context, name string) (job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return job.Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec.Clone(), nil
}

func (m *Memory) Store(ctx context.Context, rec job.Record, archive []byte) error {
	if _, err := recordSegments(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return fmt.Errorf("%w: store %s", ErrUnavailable, rec.Key)
	}
	if archive != nil {
		m.archives[rec.Key] = append([]byte(nil), archive...)
	}
	m.records[rec.Key] = rec.Clone()
	m.writes++
	return nil
}

func (m *Memory) Orphan(ctx context.Context, name string, archive []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return fmt.Errorf("%w: orphan %s", ErrUnavailable, name)
	}
	m.orphans[name] = append([]byte(nil), archive...)
	return nil
}

func (m *Memory) Orphans(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.orphans))
	for name := range m.orphans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
