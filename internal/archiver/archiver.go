// Package archiver moves jobs out of the queue: terminal jobs into the
// library, unrunnable ones into the library's orphan area. A job leaves the
// queue only after the library write succeeded.
package archiver

import (
	"context"
	"fmt"
	"strings"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
	"github.com/lmhale99/iprPy-sub006/internal/library"
)

// Archiver finalizes jobs.
type Archiver struct {
	jobs jobstore.JobStore
	lib  library.LibraryStore
}

// New returns an Archiver over the given stores.
func New(jobs jobstore.JobStore, lib library.LibraryStore) *Archiver {
	return &Archiver{jobs: jobs, lib: lib}
}

// Finalize writes the terminal record into the job, stores the record and a
// snapshot of the job in the library, then removes the job from the queue.
// Running it again for the same record leaves the library unchanged.
func (a *Archiver) Finalize(ctx context.Context, j *job.Job, rec job.Record) error {
	if !rec.Terminal() {
		return fmt.Errorf("archiver: record for %s is %s, not terminal", j.Name, rec.Status)
	}
	if rec.Key == "" {
		rec.Key = j.Name
	}
	if err := job.ValidSegment(rec.Key); err != nil {
		return fmt.Errorf("archiver: record key for %s: %w", j.Name, err)
	}
	if _, err := job.LibraryPath(rec.Type, rec.Grouping); err != nil {
		return fmt.Errorf("archiver: record for %s: %w", j.Name, err)
	}
	data, err := job.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := a.jobs.WriteFile(ctx, j.Name, job.RecordFile, data); err != nil {
		return fmt.Errorf("archiver: write record into %s: %w", j.Name, err)
	}
	snapshot, err := a.jobs.Archive(ctx, j.Name)
	if err != nil {
		return fmt.Errorf("archiver: snapshot %s: %w", j.Name, err)
	}
	if err := a.lib.Store(ctx, rec, snapshot); err != nil {
		return fmt.Errorf("archiver: store %s: %w", j.Name, err)
	}
	if err := a.jobs.Remove(ctx, j.Name); err != nil {
		return fmt.Errorf("archiver: remove %s from queue: %w", j.Name, err)
	}
	return nil
}

// Orphan files the job directory, with the reason it could not run, into the
// orphan area and removes it from the queue.
func (a *Archiver) Orphan(ctx context.Context, name, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason != "" {
		if err := a.jobs.WriteFile(ctx, name, job.OrphanReasonFile, []byte(reason+"\n")); err != nil {
			return fmt.Errorf("archiver: write orphan reason into %s: %w", name, err)
		}
	}
	snapshot, err := a.jobs.Archive(ctx, name)
	if err != nil {
		return fmt.Errorf("archiver: snapshot %s: %w", name, err)
	}
	if err := a.lib.Orphan(ctx, name, snapshot); err != nil {
		return fmt.Errorf("archiver: orphan %s: %w", name, err)
	}
	if err := a.jobs.Remove(ctx, name); err != nil {
		return fmt.Errorf("archiver: remove %s from queue: %w", name, err)
	}
	return nil
}
