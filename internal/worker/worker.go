// Package worker is the per-process runner loop. It lists the queue, bids for
// jobs, resolves their parents, executes them and archives the outcome, one
// job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/lmhale99/iprPy-sub006/internal/archiver"
	"github.com/lmhale99/iprPy-sub006/internal/bid"
	"github.com/lmhale99/iprPy-sub006/internal/executor"
	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
	"github.com/lmhale99/iprPy-sub006/internal/library"
	"github.com/lmhale99/iprPy-sub006/internal/logging"
	"github.com/lmhale99/iprPy-sub006/internal/resolver"
	"github.com/lmhale99/iprPy-sub006/internal/storage"
)

// State is where a job stands from this worker's point of view.
type State string

const (
	StateListed         State = "listed"
	StateBidding        State = "bidding"
	StateLost           State = "lost"
	StateWon            State = "won"
	StateVanished       State = "vanished"
	StateDependencyWait State = "dependency-wait"
	StateReady          State = "ready"
	StateExecuting      State = "executing"
	StateFinished       State = "finished"
	StateError          State = "error"
	StateArchived       State = "archived"
	StateOrphaned       State = "orphaned"
	StateDeferred       State = "deferred"
)

// Stale bid policies.
const (
	StaleOrphan  = "orphan"
	StaleRequeue = "requeue"
)

// Candidate orders.
const (
	OrderRandom = "random"
	OrderSorted = "sorted"
)

// Transition is the result of one attempt on one job.
type Transition struct {
	Job   string
	State State
	Trace []State
	// Next is the parent to attempt after a dependency wait.
	Next string
	// Record is the terminal record when the job was finalized.
	Record *job.Record
	Reason string
}

func (t *Transition) enter(s State) {
	t.Trace = append(t.Trace, s)
	t.State = s
}

// Journal receives one entry per attempt.
type Journal interface {
	SaveAttempt(a *storage.Attempt) error
}

// Config controls the loop.
type Config struct {
	// StaleBids is StaleOrphan or StaleRequeue.
	StaleBids string
	// IncompleteGrace is how long an incomplete job may sit untouched before
	// it is orphaned.
	IncompleteGrace time.Duration
	// IdleInterval is the pause after a pass that made no progress.
	IdleInterval time.Duration
	// Order is OrderRandom or OrderSorted.
	Order string
	// Once stops Run after a single pass.
	Once bool
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WithJournal records every attempt.
func WithJournal(j Journal) Option {
	return func(w *Worker) {
		w.journal = j
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithSleep overrides the idle wait between passes.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Worker) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithSeed fixes the candidate shuffle.
func WithSeed(seed int64) Option {
	return func(w *Worker) {
		w.rng = rand.New(rand.NewSource(seed))
	}
}

// Worker runs jobs from the queue until it is empty.
type Worker struct {
	jobs     jobstore.JobStore
	bidder   *bid.Bidder
	resolver *resolver.Resolver
	exec     executor.Executor
	archiver *archiver.Archiver
	cfg      Config
	log      logging.Logger
	journal  Journal
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	rng      *rand.Rand
}

// NewWorker wires the loop over the given stores.
func NewWorker(jobs jobstore.JobStore, lib library.LibraryStore, bidder *bid.Bidder, exec executor.Executor, cfg Config, opts ...Option) (*Worker, error) {
	if jobs == nil || lib == nil || bidder == nil || exec == nil {
		return nil, fmt.Errorf("worker: job store, library, bidder and executor are required")
	}
	if cfg.StaleBids == "" {
		cfg.StaleBids = StaleOrphan
	}
	if cfg.Order == "" {
		cfg.Order = OrderRandom
	}
	switch cfg.StaleBids {
	case StaleOrphan, StaleRequeue:
	default:
		return nil, fmt.Errorf("worker: unknown stale bid policy %q", cfg.StaleBids)
	}
	switch cfg.Order {
	case OrderRandom, OrderSorted:
	default:
		return nil, fmt.Errorf("worker: unknown candidate order %q", cfg.Order)
	}
	w := &Worker{
		jobs:     jobs,
		bidder:   bidder,
		resolver: resolver.New(jobs, lib),
		exec:     exec,
		archiver: archiver.New(jobs, lib),
		cfg:      cfg,
		log:      logging.Nop{},
		now:      time.Now,
		sleep:    bid.Sleep,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Attempt drives one job through the state machine. The returned error is
// non-nil only for context cancellation and unexpected store failures; in
// both cases any claim this worker held has been released.
func (w *Worker) Attempt(ctx context.Context, name string) (Transition, error) {
	tr := Transition{Job: name}
	tr.enter(StateListed)
	tr.enter(StateBidding)

	res, err := w.bidder.Bid(ctx, name)
	if err != nil {
		return tr, err
	}
	switch res.Outcome {
	case bid.Vanished:
		tr.enter(StateVanished)
		return tr, nil
	case bid.Lost:
		if res.Err != nil {
			tr.Reason = res.Err.Error()
			w.log.Warn("bid on %s lost to store error: %v", name, res.Err)
		}
		tr.enter(StateLost)
		return tr, nil
	}
	tr.enter(StateWon)

	if len(res.Stale) > 0 {
		reason := staleReason(res.Stale)
		if w.cfg.StaleBids == StaleOrphan {
			w.orphan(ctx, &tr, reason)
			return tr, nil
		}
		cleared, err := w.bidder.ClearStale(ctx, name)
		if err != nil {
			return w.abandon(ctx, &tr, err)
		}
		w.log.Warn("requeued %s: cleared %d stale bid(s); %s", name, len(cleared), reason)
	}

	j, err := w.load(ctx, name)
	switch {
	case errors.Is(err, job.ErrIncomplete):
		w.incomplete(ctx, &tr, err)
		return tr, nil
	case err != nil:
		return w.abandon(ctx, &tr, err)
	}

	if j.Record.Terminal() {
		// executed earlier, archival did not complete
		w.log.Info("resuming archival of %s (%s)", name, j.Record.Status)
		w.finalize(ctx, &tr, j, j.Record)
		return tr, nil
	}

	verdict, err := w.resolver.Resolve(ctx, j)
	if err != nil {
		return w.abandon(ctx, &tr, err)
	}
	switch verdict.Outcome {
	case resolver.Wait:
		w.release(ctx, name)
		tr.Next = verdict.Parent
		tr.Reason = fmt.Sprintf("waiting for parent %s", verdict.Parent)
		tr.enter(StateDependencyWait)
		w.log.Info("%s waits for parent %s", name, verdict.Parent)
		return tr, nil
	case resolver.Unresolvable:
		w.orphan(ctx, &tr, verdict.Message)
		return tr, nil
	case resolver.Failed:
		rec := j.Record.Clone()
		if err := rec.Fail(verdict.Message); err != nil {
			return w.abandon(ctx, &tr, err)
		}
		tr.enter(StateError)
		w.finalize(ctx, &tr, j, rec)
		return tr, nil
	}

	tr.enter(StateReady)
	tr.enter(StateExecuting)
	w.log.Info("executing %s (%s)", name, j.Executable)
	rec := w.exec.Execute(ctx, j)
	if !rec.Terminal() {
		_ = rec.Fail("calculation did not report a terminal status")
	}
	if rec.Status == job.StatusFinished {
		tr.enter(StateFinished)
	} else {
		tr.enter(StateError)
	}
	if err := w.bidder.Renew(ctx, name); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		w.log.Warn("renew bid on %s: %v", name, err)
	}
	w.finalize(ctx, &tr, j, rec)
	return tr, nil
}

func (w *Worker) load(ctx context.Context, name string) (*job.Job, error) {
	files, err := w.jobs.Files(ctx, name)
	if err != nil {
		return nil, err
	}
	j, err := job.FromFiles(name, files, func(file string) ([]byte, error) {
		return w.jobs.ReadFile(ctx, name, file)
	})
	if err != nil {
		return nil, err
	}
	j.Dir = w.jobs.Dir(name)
	return j, nil
}

func (w *Worker) incomplete(ctx context.Context, tr *Transition, cause error) {
	if w.cfg.IncompleteGrace > 0 {
		modified, err := w.jobs.LastModified(ctx, tr.Job)
		if err == nil && w.now().Sub(modified) < w.cfg.IncompleteGrace {
			w.release(ctx, tr.Job)
			tr.Reason = cause.Error()
			tr.enter(StateDeferred)
			w.log.Info("deferring incomplete %s: %v", tr.Job, cause)
			return
		}
	}
	w.orphan(ctx, tr, cause.Error())
}

func (w *Worker) finalize(ctx context.Context, tr *Transition, j *job.Job, rec job.Record) {
	tr.Record = &rec
	if err := w.archiver.Finalize(ctx, j, rec); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			w.bidder.Forget(j.Name)
			tr.Reason = err.Error()
			tr.enter(StateVanished)
			return
		}
		if errors.Is(err, job.ErrLayout) {
			// retrying cannot help; the record has no place in the library
			w.orphan(ctx, tr, err.Error())
			return
		}
		w.log.Error("archive %s failed, leaving it queued: %v", j.Name, err)
		w.release(ctx, j.Name)
		tr.Reason = err.Error()
		tr.enter(StateDeferred)
		return
	}
	w.bidder.Forget(j.Name)
	tr.enter(StateArchived)
	if rec.Status == job.StatusError {
		w.log.Warn("archived %s with error: %s", j.Name, firstLine(rec.ErrorMessage))
		return
	}
	w.log.Info("archived %s", j.Name)
}

func (w *Worker) orphan(ctx context.Context, tr *Transition, reason string) {
	tr.Reason = reason
	if err := w.archiver.Orphan(ctx, tr.Job, reason); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			w.bidder.Forget(tr.Job)
			tr.enter(StateVanished)
			return
		}
		w.log.Error("orphan %s failed, leaving it queued: %v", tr.Job, err)
		w.release(ctx, tr.Job)
		tr.enter(StateDeferred)
		return
	}
	w.bidder.Forget(tr.Job)
	tr.enter(StateOrphaned)
	w.log.Warn("orphaned %s: %s", tr.Job, reason)
}

// abandon releases the claim after an unexpected failure. A job that
// disappeared meanwhile is reported as vanished instead.
func (w *Worker) abandon(ctx context.Context, tr *Transition, cause error) (Transition, error) {
	if errors.Is(cause, jobstore.ErrNotFound) {
		w.bidder.Forget(tr.Job)
		tr.enter(StateVanished)
		return *tr, nil
	}
	w.release(context.WithoutCancel(ctx), tr.Job)
	tr.Reason = cause.Error()
	tr.enter(StateDeferred)
	return *tr, fmt.Errorf("worker: %s: %w", tr.Job, cause)
}

func (w *Worker) release(ctx context.Context, name string) {
	if err := w.bidder.Release(ctx, name); err != nil {
		w.log.Warn("release bid on %s: %v", name, err)
	}
}

// Summary counts what one pass did.
type Summary struct {
	Listed      int
	Busy        int
	Transitions []Transition
}

// Empty reports whether the listing found no jobs.
func (s Summary) Empty() bool {
	return s.Listed == 0
}

// Count returns how many attempts ended in state.
func (s Summary) Count(state State) int {
	n := 0
	for _, t := range s.Transitions {
		if t.State == state {
			n++
		}
	}
	return n
}

// Progress is the number of jobs that left the queue during the pass.
func (s Summary) Progress() int {
	return s.Count(StateArchived) + s.Count(StateOrphaned)
}

// Pass lists the queue once and attempts every job that carries no live bid,
// following dependency waits depth-first into the parent.
func (w *Worker) Pass(ctx context.Context) (Summary, error) {
	var sum Summary
	names, err := w.jobs.List(ctx)
	if err != nil {
		return sum, err
	}
	sum.Listed = len(names)
	w.order(names)

	attempted := map[string]bool{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if attempted[name] {
			continue
		}
		busy, err := w.bidder.Busy(ctx, name)
		if err != nil {
			if !errors.Is(err, jobstore.ErrNotFound) {
				w.log.Warn("inspect bids on %s: %v", name, err)
			}
			continue
		}
		if busy {
			sum.Busy++
			continue
		}
		for target := name; target != ""; {
			if attempted[target] {
				w.log.Warn("%s was already attempted in this pass; dependency cycle?", target)
				break
			}
			attempted[target] = true
			started := w.now()
			tr, err := w.Attempt(ctx, target)
			w.record(tr, started)
			sum.Transitions = append(sum.Transitions, tr)
			if err != nil {
				return sum, err
			}
			target = tr.Next
		}
	}
	return sum, nil
}

// Run repeats passes until a listing comes back empty, pausing after passes
// that made no progress.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker %d started (session %s)", w.bidder.Identity(), w.bidder.Session())
	for {
		sum, err := w.Pass(ctx)
		if err != nil {
			return err
		}
		if sum.Empty() {
			w.log.Info("queue is empty")
			return nil
		}
		if w.cfg.Once {
			return nil
		}
		if sum.Progress() == 0 {
			if err := w.sleep(ctx, w.cfg.IdleInterval); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) order(names []string) {
	if w.cfg.Order == OrderSorted {
		sort.Strings(names)
		return
	}
	w.rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
}

func (w *Worker) record(tr Transition, started time.Time) {
	if w.journal == nil {
		return
	}
	trace := make([]string, len(tr.Trace))
	for i, s := range tr.Trace {
		trace[i] = string(s)
	}
	a := &storage.Attempt{
		Job:       tr.Job,
		Worker:    w.bidder.Identity(),
		Session:   w.bidder.Session(),
		State:     string(tr.State),
		Parent:    tr.Next,
		Message:   tr.Reason,
		Trace:     strings.Join(trace, ">"),
		StartedAt: started.UTC(),
		EndedAt:   w.now().UTC(),
	}
	if tr.Record != nil {
		a.Status = string(tr.Record.Status)
		if a.Message == "" {
			a.Message = tr.Record.ErrorMessage
		}
	}
	if err := w.journal.SaveAttempt(a); err != nil {
		w.log.Warn("journal attempt on %s: %v", tr.Job, err)
	}
}

func staleReason(stale []job.Bid) string {
	parts := make([]string, 0, len(stale))
	for _, b := range stale {
		desc := fmt.Sprintf("worker %d", b.Identity)
		if b.Host != "" {
			desc += "@" + b.Host
		}
		parts = append(parts, desc)
	}
	return "stale bid from " + strings.Join(parts, ", ") + " (worker presumed dead)"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
