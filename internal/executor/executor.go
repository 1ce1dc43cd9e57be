// Package executor runs a job's calculation program and turns its outcome
// into a terminal Record. Calculation failures are reported in the Record,
// never as Go errors.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
)

// Files the executor leaves in the job directory.
const (
	StdoutFile = "calc.stdout"
	StderrFile = "calc.stderr"
)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) job.Record
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, j *job.Job) job.Record

func (f Func) Execute(ctx context.Context, j *job.Job) job.Record {
	return f(ctx, j)
}

// Config controls how calculation programs are launched and judged.
type Config struct {
	// ResultFile is the artifact a successful calculation writes.
	ResultFile string
	// StderrIsError treats any stderr output as failure even on exit 0.
	StderrIsError bool
	// Interpreters maps an executable's extension to the launcher command.
	Interpreters map[string]string
}

// DefaultInterpreters returns the launchers used when none are configured.
func DefaultInterpreters() map[string]string {
	return map[string]string{
		".py": "python3",
		".sh": "sh",
	}
}

// Process runs the executable reference as a child process in the job
// directory with the description file and the job name as arguments.
type Process struct {
	jobs jobstore.JobStore
	cfg  Config
}

// NewProcess returns a subprocess executor.
func NewProcess(jobs jobstore.JobStore, cfg Config) *Process {
	if cfg.ResultFile == "" {
		cfg.ResultFile = job.DefaultResultFile
	}
	return &Process{jobs: jobs, cfg: cfg}
}

// Execute blocks until the child exits. The child is not cancelled with ctx.
func (p *Process) Execute(ctx context.Context, j *job.Job) job.Record {
	rec := j.Record.Clone()
	if rec.Terminal() {
		return rec
	}
	dir := j.Dir
	if dir == "" {
		dir = p.jobs.Dir(j.Name)
	}
	if dir == "" {
		return failed(rec, fmt.Sprintf("job %s has no working directory", j.Name))
	}
	for _, parent := range j.Parents() {
		if job.ParentFile(parent) == p.cfg.ResultFile {
			return failed(rec, fmt.Sprintf("parent %s record would be overwritten by %s", parent, p.cfg.ResultFile))
		}
	}
	if err := os.Remove(filepath.Join(dir, p.cfg.ResultFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failed(rec, fmt.Sprintf("remove stale %s: %v", p.cfg.ResultFile, err))
	}

	cmd := p.command(dir, j)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	// Captured output is kept for inspection; failing to save it does not
	// change the calculation's outcome.
	_ = p.jobs.WriteFile(ctx, j.Name, StdoutFile, stdout.Bytes())
	_ = p.jobs.WriteFile(ctx, j.Name, StderrFile, stderr.Bytes())

	diag := stderr.String()
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case strings.TrimSpace(diag) != "":
			return failed(rec, diag)
		case errors.As(runErr, &exitErr):
			return failed(rec, fmt.Sprintf("calculation %s exited with status %d", j.Executable, exitErr.ExitCode()))
		default:
			return failed(rec, fmt.Sprintf("start calculation %s: %v", j.Executable, runErr))
		}
	}
	if p.cfg.StderrIsError && strings.TrimSpace(diag) != "" {
		return failed(rec, diag)
	}

	data, err := p.jobs.ReadFile(ctx, j.Name, p.cfg.ResultFile)
	if err != nil {
		return failed(rec, fmt.Sprintf("calculation produced no %s", p.cfg.ResultFile))
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("not a JSON object")
		}
		return failed(rec, fmt.Sprintf("malformed %s: %v", p.cfg.ResultFile, err))
	}
	if err := rec.Finish(fields); err != nil {
		return failed(rec, err.Error())
	}
	return rec
}

func (p *Process) command(dir string, j *job.Job) *exec.Cmd {
	target := filepath.Join(dir, j.Executable)
	args := []string{j.Description.File, j.Name}
	var cmd *exec.Cmd
	if launcher := strings.Fields(p.cfg.Interpreters[filepath.Ext(j.Executable)]); len(launcher) > 0 {
		cmdArgs := append(launcher[1:], target)
		cmd = exec.Command(launcher[0], append(cmdArgs, args...)...)
	} else {
		cmd = exec.Command(target, args...)
	}
	cmd.Dir = dir
	return cmd
}

func failed(rec job.Record, msg string) job.Record {
	_ = rec.Fail(msg)
	return rec
}
