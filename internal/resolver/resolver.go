// Package resolver decides whether a claimed job's parents allow it to run.
//
// Parents are looked up in the library first and in the job queue second. A
// failed parent fails the child, a parent still queued makes the child wait,
// and a parent found nowhere makes the child unresolvable. Dependency cycles
// longer than a job naming itself are not detected; preparers must not create
// them.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
	"github.com/lmhale99/iprPy-sub006/internal/library"
)

// Outcome classifies a job's dependencies.
type Outcome int

const (
	Ready Outcome = iota
	Wait
	Failed
	Unresolvable
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Wait:
		return "wait"
	case Failed:
		return "failed"
	case Unresolvable:
		return "unresolvable"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the resolver's verdict.
type Result struct {
	Outcome Outcome
	// Parent is the parent responsible for Wait, Failed or Unresolvable.
	Parent string
	// Message explains Failed and Unresolvable outcomes.
	Message string
	// Inputs are the parent records copied into the job for Ready.
	Inputs []string
}

// Resolver checks parents against the library and the queue.
type Resolver struct {
	jobs jobstore.JobStore
	lib  library.LibraryStore
}

// New returns a Resolver.
func New(jobs jobstore.JobStore, lib library.LibraryStore) *Resolver {
	return &Resolver{jobs: jobs, lib: lib}
}

type parentState struct {
	name    string
	rec     job.Record
	found   bool
	queued  bool
	missing bool
}

// Resolve classifies j's parents. On Ready every parent record has been
// written into the job directory as <parent>.json. Errors are store failures
// other than a missing record or job.
func (r *Resolver) Resolve(ctx context.Context, j *job.Job) (Result, error) {
	parents := j.Parents()
	states := make([]parentState, 0, len(parents))
	for _, name := range parents {
		if name == j.Name {
			return Result{
				Outcome: Unresolvable,
				Parent:  name,
				Message: fmt.Sprintf("job %s names itself as a parent", name),
			}, nil
		}
		st := parentState{name: name}
		if err := r.lookup(ctx, &st); err != nil {
			return Result{}, err
		}
		if !st.terminal() {
			queued, err := r.jobs.Exists(ctx, name)
			if err != nil {
				return Result{}, fmt.Errorf("resolver: check queue for %s: %w", name, err)
			}
			st.queued = queued
			if !queued {
				// the parent may have been archived between the two lookups
				if err := r.lookup(ctx, &st); err != nil {
					return Result{}, err
				}
				st.missing = !st.terminal()
			}
		}
		states = append(states, st)
	}

	for _, st := range states {
		if st.found && st.rec.Status == job.StatusError {
			msg := fmt.Sprintf("parent job %s failed", st.name)
			if st.rec.ErrorMessage != "" {
				msg += ": " + st.rec.ErrorMessage
			}
			return Result{Outcome: Failed, Parent: st.name, Message: msg}, nil
		}
	}
	for _, st := range states {
		if st.queued && !st.terminal() {
			return Result{Outcome: Wait, Parent: st.name}, nil
		}
	}
	for _, st := range states {
		if st.missing {
			return Result{
				Outcome: Unresolvable,
				Parent:  st.name,
				Message: fmt.Sprintf("parent job %s is neither queued nor in the library", st.name),
			}, nil
		}
	}

	res := Result{Outcome: Ready}
	for _, st := range states {
		data, err := job.EncodeRecord(st.rec)
		if err != nil {
			return Result{}, err
		}
		file := job.ParentFile(st.name)
		if err := r.jobs.WriteFile(ctx, j.Name, file, data); err != nil {
			return Result{}, fmt.Errorf("resolver: copy parent %s into %s: %w", st.name, j.Name, err)
		}
		res.Inputs = append(res.Inputs, file)
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, st *parentState) error {
	rec, err := r.lib.Find(ctx, st.name)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			st.found = false
			return nil
		}
		return fmt.Errorf("resolver: look up parent %s: %w", st.name, err)
	}
	st.rec = rec
	st.found = true
	return nil
}

func (st parentState) terminal() bool {
	return st.found && st.rec.Terminal()
}
