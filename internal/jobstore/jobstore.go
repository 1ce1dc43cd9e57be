// Package jobstore holds the pending-work queue: one directory per job under
// the run directory. Every mutation other processes might observe is either
// an atomic rename or a whole-file create/delete.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lmhale99/iprPy-sub006/internal/job"
)

// ErrNotFound is returned when the job directory does not exist (it was never
// queued or another worker already archived it).
var ErrNotFound = errors.New("jobstore: job not found")

// JobStore is the shared queue of job directories.
type JobStore interface {
	// List returns the queued job names in lexical order.
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Dir is the job's working directory, or "" when the store is not backed
	// by a filesystem.
	Dir(name string) string
	// Files lists the job's top-level files, excluding bid markers.
	Files(ctx context.Context, name string) ([]string, error)
	// LastModified is the newest modification time of the job's files.
	LastModified(ctx context.Context, name string) (time.Time, error)
	ReadFile(ctx context.Context, name, file string) ([]byte, error)
	// WriteFile replaces a file with create-then-rename semantics.
	WriteFile(ctx context.Context, name, file string, data []byte) error
	Bids(ctx context.Context, name string) ([]job.Bid, error)
	// Claim places the bid marker for bid.Identity.
	Claim(ctx context.Context, name string, bid job.Bid) error
	// Release removes one bid marker. A missing marker is not an error.
	Release(ctx context.Context, name string, identity int64) error
	// Archive returns a gzip-compressed tar snapshot of the job directory.
	Archive(ctx context.Context, name string) ([]byte, error)
	// Remove deletes the job directory, bids included.
	Remove(ctx context.Context, name string) error
}

func validName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("jobstore: %s name is empty", kind)
	case name == "." || name == "..":
		return fmt.Errorf("jobstore: invalid %s name %q", kind, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("jobstore: %s name %q contains a path separator", kind, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("jobstore: %s name %q is hidden", kind, name)
	}
	return nil
}
