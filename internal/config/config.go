// Package config loads the runner configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lmhale99/iprPy-sub006/internal/bid"
	"github.com/lmhale99/iprPy-sub006/internal/executor"
	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/worker"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "calcrunner.yaml"

// DefaultIdleInterval is the pause after a pass that made no progress.
const DefaultIdleInterval = 30 * time.Second

// Stale bid policies and candidate orders accepted in the file.
const (
	StaleOrphan  = worker.StaleOrphan
	StaleRequeue = worker.StaleRequeue
	OrderRandom  = worker.OrderRandom
	OrderSorted  = worker.OrderSorted
)

// Duration is a time.Duration written as "5s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("config: duration: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) or(def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return d.Std()
}

func durationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// Bid holds the bidding protocol timing. Unset fields take the protocol
// defaults; an explicit 0 is kept.
type Bid struct {
	Settle        *Duration `yaml:"settle"`
	ResolveSettle *Duration `yaml:"resolve_settle"`
	// Lease is how long a bid protects its job; 0 disables expiry. The worker
	// renews its bid when a calculation ends, but a bid is not renewed while
	// the calculation runs, so the lease must outlast the longest calculation.
	Lease *Duration `yaml:"lease"`
}

// SettleDuration returns the effective settle interval.
func (b Bid) SettleDuration() time.Duration {
	return b.Settle.or(bid.DefaultSettle)
}

// ResolveSettleDuration returns the effective resolve settle interval.
func (b Bid) ResolveSettleDuration() time.Duration {
	return b.ResolveSettle.or(bid.DefaultResolveSettle)
}

// LeaseDuration returns the effective bid lease.
func (b Bid) LeaseDuration() time.Duration {
	return b.Lease.or(bid.DefaultLease)
}

// Executor holds calculation launch settings.
type Executor struct {
	ResultFile    string            `yaml:"result_file"`
	StderrIsError *bool             `yaml:"stderr_is_error,omitempty"`
	Interpreters  map[string]string `yaml:"interpreters,omitempty"`
}

// Config is the runner configuration.
type Config struct {
	RunDirectory    string    `yaml:"run_directory"`
	LibDirectory    string    `yaml:"lib_directory"`
	Identity        int64     `yaml:"identity,omitempty"`
	Bid             Bid       `yaml:"bid"`
	StaleBids       string    `yaml:"stale_bids"`
	IncompleteGrace Duration  `yaml:"incomplete_grace"`
	IdleInterval    *Duration `yaml:"idle_interval"`
	CandidateOrder  string    `yaml:"candidate_order"`
	Executor        Executor  `yaml:"executor"`
	JournalPath     string    `yaml:"journal_path,omitempty"`
	LogFile         string    `yaml:"log_file,omitempty"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path. A missing file yields the defaults; directories are still
// required by Validate.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.normalize(filepath.Dir(path))
	return c, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Set assigns one key, named as in the YAML file.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	var d Duration
	parse := func() error {
		return d.UnmarshalYAML(&yaml.Node{Kind: yaml.ScalarNode, Value: value})
	}
	duration := func(dst **Duration) error {
		if err := parse(); err != nil {
			return err
		}
		*dst = &d
		return nil
	}
	switch key {
	case "run_directory":
		c.RunDirectory = value
	case "lib_directory":
		c.LibDirectory = value
	case "identity":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: identity: %w", err)
		}
		c.Identity = id
	case "bid.settle":
		return duration(&c.Bid.Settle)
	case "bid.resolve_settle":
		return duration(&c.Bid.ResolveSettle)
	case "bid.lease":
		return duration(&c.Bid.Lease)
	case "stale_bids":
		c.StaleBids = strings.ToLower(value)
	case "incomplete_grace":
		if err := parse(); err != nil {
			return err
		}
		c.IncompleteGrace = d
	case "idle_interval":
		return duration(&c.IdleInterval)
	case "candidate_order":
		c.CandidateOrder = strings.ToLower(value)
	case "executor.result_file":
		c.Executor.ResultFile = value
	case "executor.stderr_is_error":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: executor.stderr_is_error: %w", err)
		}
		c.Executor.StderrIsError = &v
	case "journal_path":
		c.JournalPath = value
	case "log_file":
		c.LogFile = value
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}

// StderrIsError reports whether stderr output fails a calculation.
func (c *Config) StderrIsError() bool {
	return c.Executor.StderrIsError == nil || *c.Executor.StderrIsError
}

// WorkerIdentity is the configured identity, or the process id.
func (c *Config) WorkerIdentity() int64 {
	if c.Identity > 0 {
		return c.Identity
	}
	return int64(os.Getpid())
}

// BidConfig returns the protocol settings for this worker.
func (c *Config) BidConfig() bid.Config {
	return bid.Config{
		Identity:      c.WorkerIdentity(),
		Settle:        c.Bid.SettleDuration(),
		ResolveSettle: c.Bid.ResolveSettleDuration(),
		Lease:         c.Bid.LeaseDuration(),
	}
}

// ExecutorConfig returns the calculation launch settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		ResultFile:    c.Executor.ResultFile,
		StderrIsError: c.StderrIsError(),
		Interpreters:  c.Executor.Interpreters,
	}
}

// WorkerConfig returns the loop settings.
func (c *Config) WorkerConfig(once bool) worker.Config {
	return worker.Config{
		StaleBids:       c.StaleBids,
		IncompleteGrace: c.IncompleteGrace.Std(),
		IdleInterval:    c.IdleInterval.or(DefaultIdleInterval),
		Order:           c.CandidateOrder,
		Once:            once,
	}
}

func (c *Config) applyDefaults() {
	if c.Bid.Settle == nil {
		c.Bid.Settle = durationPtr(bid.DefaultSettle)
	}
	if c.Bid.ResolveSettle == nil {
		c.Bid.ResolveSettle = durationPtr(bid.DefaultResolveSettle)
	}
	if c.Bid.Lease == nil {
		c.Bid.Lease = durationPtr(bid.DefaultLease)
	}
	if c.StaleBids == "" {
		c.StaleBids = StaleOrphan
	}
	if c.IdleInterval == nil {
		c.IdleInterval = durationPtr(DefaultIdleInterval)
	}
	if c.CandidateOrder == "" {
		c.CandidateOrder = OrderRandom
	}
	if c.Executor.ResultFile == "" {
		c.Executor.ResultFile = job.DefaultResultFile
	}
	if c.Executor.StderrIsError == nil {
		v := true
		c.Executor.StderrIsError = &v
	}
	if len(c.Executor.Interpreters) == 0 {
		c.Executor.Interpreters = executor.DefaultInterpreters()
	}
}

// normalize resolves relative paths against base and lower-cases enums.
func (c *Config) normalize(base string) {
	c.RunDirectory = absPath(base, c.RunDirectory)
	c.LibDirectory = absPath(base, c.LibDirectory)
	c.JournalPath = absPath(base, c.JournalPath)
	c.LogFile = absPath(base, c.LogFile)
	c.StaleBids = strings.ToLower(strings.TrimSpace(c.StaleBids))
	c.CandidateOrder = strings.ToLower(strings.TrimSpace(c.CandidateOrder))
	c.Executor.ResultFile = strings.TrimSpace(c.Executor.ResultFile)
	interps := make(map[string]string, len(c.Executor.Interpreters))
	for ext, launcher := range c.Executor.Interpreters {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		interps[ext] = strings.TrimSpace(launcher)
	}
	c.Executor.Interpreters = interps
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RunDirectory) == "" {
		return fmt.Errorf("config: run_directory is required")
	}
	if strings.TrimSpace(c.LibDirectory) == "" {
		return fmt.Errorf("config: lib_directory is required")
	}
	if filepath.Clean(c.RunDirectory) == filepath.Clean(c.LibDirectory) {
		return fmt.Errorf("config: run_directory and lib_directory must differ")
	}
	if c.Identity < 0 {
		return fmt.Errorf("config: identity must not be negative")
	}
	if c.Bid.SettleDuration() < 0 || c.Bid.ResolveSettleDuration() < 0 {
		return fmt.Errorf("config: bid settle intervals must not be negative")
	}
	if lease := c.Bid.LeaseDuration(); lease < 0 || (lease > 0 && lease <= c.Bid.ResolveSettleDuration()) {
		return fmt.Errorf("config: bid.lease must be 0 or longer than bid.resolve_settle")
	}
	if c.IncompleteGrace < 0 || c.IdleInterval.or(DefaultIdleInterval) < 0 {
		return fmt.Errorf("config: incomplete_grace and idle_interval must not be negative")
	}
	switch c.StaleBids {
	case StaleOrphan, StaleRequeue:
	default:
		return fmt.Errorf("config: stale_bids must be %q or %q, got %q", StaleOrphan, StaleRequeue, c.StaleBids)
	}
	switch c.CandidateOrder {
	case OrderRandom, OrderSorted:
	default:
		return fmt.Errorf("config: candidate_order must be %q or %q, got %q", OrderRandom, OrderSorted, c.CandidateOrder)
	}
	if c.Executor.ResultFile == "" || strings.ContainsAny(c.Executor.ResultFile, `/\`) {
		return fmt.Errorf("config: executor.result_file must be a plain file name")
	}
	return nil
}

func absPath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
