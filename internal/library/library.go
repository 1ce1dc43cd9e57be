// Package library is the durable archive of finished and failed jobs:
// <lib>/<calculation_type>/<grouping...>/<name>.json plus the job snapshot
// <name>.tar.gz, and <lib>/orphan/<name>.tar.gz for jobs that could not run.
package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

// OrphanDir is the library sub-directory holding orphaned job snapshots.
const OrphanDir = job.OrphanArea

// ErrNotFound is returned when no record exists for a job name.
var ErrNotFound = errors.New("library: record not found")

// LibraryStore persists terminal records and orphan snapshots.
type LibraryStore interface {
	// Find locates a record by job name anywhere in the library.
	Find(ctx context.Context, name string) (job.Record, error)
	// Store writes the job snapshot (when non-nil) and then the record.
	// Storing the same record twice leaves identical content.
	Store(ctx context.Context, rec job.Record, archive []byte) error
	// Orphan files a snapshot of a job that could not be validated or resolved.
	Orphan(ctx context.Context, name string, archive []byte) error
	// Orphans lists orphaned job names.
	Orphans(ctx context.Context) ([]string, error)
}

func recordSegments(rec job.Record) ([]string, error) {
	if err := job.ValidSegment(rec.Key); err != nil {
		return nil, fmt.Errorf("library: record key: %w", err)
	}
	segments, err := job.LibraryPath(rec.Type, rec.Grouping)
	if err != nil {
		return nil, fmt.Errorf("library: record %s: %w", rec.Key, err)
	}
	return segments, nil
}
