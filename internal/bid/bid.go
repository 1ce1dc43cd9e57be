// Package bid decides which of several racing workers runs a job, using only
// marker files in the job directory.
//
// The protocol is a two-phase optimistic lock. TryBid waits a settle interval,
// gives up when any live bid already exists and otherwise places its own.
// ResolveBid waits a longer settle interval and rescans: the smallest live
// identity wins. Exactly one worker wins as long as every racing worker places
// its bid before any of them finishes the resolve wait. When a filesystem
// takes longer than that to propagate a create, two workers can both win;
// callers get at-most-one execution on a best-effort basis only.
//
// Bids carry a lease. A bid older than the lease belongs to a worker presumed
// dead; it no longer blocks other workers and is reported as stale so the
// caller can apply its recovery policy.
package bid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
)

// Defaults for the protocol timing.
const (
	DefaultSettle        = time.Second
	DefaultResolveSettle = 5 * time.Second
	DefaultLease         = 72 * time.Hour
)

// Outcome is the result of one protocol phase.
type Outcome int

const (
	Lost Outcome = iota
	Placed
	Won
	Vanished
)

func (o Outcome) String() string {
	switch o {
	case Lost:
		return "lost"
	case Placed:
		return "placed"
	case Won:
		return "won"
	case Vanished:
		return "vanished"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes a protocol phase.
type Result struct {
	Outcome Outcome
	// Stale lists expired bids seen while scanning.
	Stale []job.Bid
	// Winner is the smallest live identity seen at resolve time.
	Winner int64
	// Err is the store error that turned the phase into Lost, if any.
	Err error
}

// Config holds the protocol parameters.
type Config struct {
	Identity      int64
	Settle        time.Duration
	ResolveSettle time.Duration
	// Lease is how long a bid protects its job. Zero disables expiry.
	Lease time.Duration
}

// Option customizes a Bidder.
type Option func(*Bidder)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Bidder) {
		if clock != nil {
			b.now = clock
		}
	}
}

// WithSleep overrides how settle intervals are waited out.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(b *Bidder) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// WithSession sets the session id written into every bid.
func WithSession(session string) Option {
	return func(b *Bidder) {
		if session != "" {
			b.session = session
		}
	}
}

// WithHost sets the host name written into every bid.
func WithHost(host string) Option {
	return func(b *Bidder) {
		b.host = host
	}
}

// Bidder runs the protocol for one worker identity.
type Bidder struct {
	store   jobstore.JobStore
	cfg     Config
	host    string
	session string
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error

	mu     sync.Mutex
	losers map[string][]int64
}

// New returns a Bidder. The session id defaults to a fresh UUID so two
// machines that share a process id can tell their bids apart.
func New(store jobstore.JobStore, cfg Config, opts ...Option) (*Bidder, error) {
	if store == nil {
		return nil, fmt.Errorf("bid: job store is required")
	}
	if cfg.Identity <= 0 {
		return nil, fmt.Errorf("bid: identity must be positive, got %d", cfg.Identity)
	}
	if cfg.Settle < 0 || cfg.ResolveSettle < 0 || cfg.Lease < 0 {
		return nil, fmt.Errorf("bid: negative interval in %+v", cfg)
	}
	host, _ := os.Hostname()
	b := &Bidder{
		store:   store,
		cfg:     cfg,
		host:    host,
		session: uuid.NewString(),
		now:     time.Now,
		sleep:   Sleep,
		losers:  map[string][]int64{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Identity returns the worker identity.
func (b *Bidder) Identity() int64 {
	return b.cfg.Identity
}

// Session returns the session id written into bids.
func (b *Bidder) Session() string {
	return b.session
}

// TryBid waits the settle interval, then places a bid unless a live bid
// already exists. Only context cancellation is returned as an error.
func (b *Bidder) TryBid(ctx context.Context, name string) (Result, error) {
	if err := b.sleep(ctx, b.cfg.Settle); err != nil {
		return Result{}, err
	}
	ok, err := b.store.Exists(ctx, name)
	if err != nil {
		return lost(ctx, err)
	}
	if !ok {
		return Result{Outcome: Vanished}, nil
	}
	bids, err := b.store.Bids(ctx, name)
	if err != nil {
		return b.storeFailure(ctx, err)
	}
	live, stale := b.partition(bids)
	res := Result{Stale: stale}
	if len(live) > 0 {
		res.Outcome = Lost
		return res, nil
	}
	now := b.now().UTC()
	marker := job.Bid{
		Identity: b.cfg.Identity,
		Host:     b.host,
		Session:  b.session,
		Created:  now,
	}
	if b.cfg.Lease > 0 {
		marker.Expires = now.Add(b.cfg.Lease)
	}
	if err := b.store.Claim(ctx, name, marker); err != nil {
		r, cerr := b.storeFailure(ctx, err)
		r.Stale = stale
		return r, cerr
	}
	res.Outcome = Placed
	return res, nil
}

// ResolveBid waits the resolve settle interval and decides the winner among
// the live bids. The caller's own bid must still be present and carry this
// Bidder's session.
func (b *Bidder) ResolveBid(ctx context.Context, name string) (Result, error) {
	if err := b.sleep(ctx, b.cfg.ResolveSettle); err != nil {
		return Result{}, err
	}
	bids, err := b.store.Bids(ctx, name)
	if err != nil {
		return b.storeFailure(ctx, err)
	}
	var (
		mine  *job.Bid
		found bool
	)
	for i := range bids {
		if bids[i].Identity == b.cfg.Identity {
			mine = &bids[i]
			found = true
			break
		}
	}
	live, stale := b.partition(bids)
	res := Result{Outcome: Lost, Stale: stale}
	if !found || mine.Session != b.session {
		// released by the winner, or overwritten by a worker with our identity
		return res, nil
	}
	winner := b.cfg.Identity
	var others []int64
	for _, bid := range live {
		if bid.Identity == b.cfg.Identity {
			continue
		}
		others = append(others, bid.Identity)
		if bid.Identity < winner {
			winner = bid.Identity
		}
	}
	res.Winner = winner
	if winner != b.cfg.Identity {
		return res, nil
	}
	b.mu.Lock()
	b.losers[name] = others
	b.mu.Unlock()
	res.Outcome = Won
	return res, nil
}

// Bid runs TryBid and, once placed, ResolveBid. A placed bid that could not
// be resolved, because of cancellation or a store error, is withdrawn so it
// does not block the job until its lease runs out.
func (b *Bidder) Bid(ctx context.Context, name string) (Result, error) {
	first, err := b.TryBid(ctx, name)
	if err != nil || first.Outcome != Placed {
		return first, err
	}
	second, err := b.ResolveBid(ctx, name)
	if err != nil || second.Err != nil {
		if werr := b.withdraw(ctx, name); werr != nil {
			if err != nil {
				err = errors.Join(err, werr)
			} else {
				second.Err = errors.Join(second.Err, werr)
			}
		}
		return second, err
	}
	if len(second.Stale) == 0 {
		second.Stale = first.Stale
	}
	return second, nil
}

// Release abandons a won claim: it removes this worker's bid together with
// the losing bids observed at resolve time, leaving the job free for a later
// attempt. A vanished job is not an error.
func (b *Bidder) Release(ctx context.Context, name string) error {
	b.mu.Lock()
	losers := b.losers[name]
	delete(b.losers, name)
	b.mu.Unlock()

	var errs []error
	for _, id := range append([]int64{b.cfg.Identity}, losers...) {
		if err := b.store.Release(ctx, name, id); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withdraw removes this worker's own bid, and only that one, even when ctx is
// already cancelled.
func (b *Bidder) withdraw(ctx context.Context, name string) error {
	err := b.store.Release(context.WithoutCancel(ctx), name, b.cfg.Identity)
	if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		return err
	}
	return nil
}

// Renew rewrites this worker's bid with a fresh lease. A worker calls it after
// a long calculation so the job is not taken for abandoned while it archives.
func (b *Bidder) Renew(ctx context.Context, name string) error {
	if b.cfg.Lease <= 0 {
		return nil
	}
	now := b.now().UTC()
	return b.store.Claim(ctx, name, job.Bid{
		Identity: b.cfg.Identity,
		Host:     b.host,
		Session:  b.session,
		Created:  now,
		Expires:  now.Add(b.cfg.Lease),
	})
}

// Forget drops the loser bookkeeping for a job that left the queue.
func (b *Bidder) Forget(name string) {
	b.mu.Lock()
	delete(b.losers, name)
	b.mu.Unlock()
}

// ClearStale removes expired bids from a job and returns them.
func (b *Bidder) ClearStale(ctx context.Context, name string) ([]job.Bid, error) {
	bids, err := b.store.Bids(ctx, name)
	if err != nil {
		return nil, err
	}
	_, stale := b.partition(bids)
	for _, s := range stale {
		if err := b.store.Release(ctx, name, s.Identity); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// Busy reports whether the job carries a live bid.
func (b *Bidder) Busy(ctx context.Context, name string) (bool, error) {
	bids, err := b.store.Bids(ctx, name)
	if err != nil {
		return false, err
	}
	live, _ := b.partition(bids)
	return len(live) > 0, nil
}

func (b *Bidder) partition(bids []job.Bid) (live, stale []job.Bid) {
	now := b.now()
	for _, bid := range bids {
		if bid.Stale(now, b.cfg.Lease) {
			stale = append(stale, bid)
			continue
		}
		live = append(live, bid)
	}
	return live, stale
}

func (b *Bidder) storeFailure(ctx context.Context, err error) (Result, error) {
	if errors.Is(err, jobstore.ErrNotFound) {
		return Result{Outcome: Vanished}, nil
	}
	return lost(ctx, err)
}

func lost(ctx context.Context, err error) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	return Result{Outcome: Lost, Err: err}, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
