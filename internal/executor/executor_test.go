package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
)

func setup(t *testing.T, script string) (*jobstore.FS, *job.Job) {
	t.Helper()
	store, err := jobstore.NewFS(filepath.Join(t.TempDir(), "run"))
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(store.Root(), "A")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"calc_E0.in": "calculation_type E0\n",
		"calc_E0.sh": script,
	}
	for f, body := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	names, _ := store.Files(ctx, "A")
	j, err := job.FromFiles("A", names, func(f string) ([]byte, error) { return store.ReadFile(ctx, "A", f) })
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	j.Dir = dir
	return store, j
}

func newProcess(store jobstore.JobStore) *Process {
	return NewProcess(store, Config{StderrIsError: true, Interpreters: DefaultInterpreters()})
}

func TestProcessSuccess(t *testing.T) {
	store, j := setup(t, `[ "$1" = calc_E0.in ] && [ "$2" = A ] || exit 3
echo '{"value": 42}' > result.json
echo done
`)
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusFinished {
		t.Fatalf("status = %s (%s)", rec.Status, rec.ErrorMessage)
	}
	if rec.Fields["value"] != float64(42) {
		t.Fatalf("fields = %v", rec.Fields)
	}
	out, err := store.ReadFile(context.Background(), "A", StdoutFile)
	if err != nil || strings.TrimSpace(string(out)) != "done" {
		t.Fatalf("stdout capture = %q, %v", out, err)
	}
}

func TestProcessStderrIsCapturedVerbatim(t *testing.T) {
	store, j := setup(t, "printf 'lammps: bad potential\\n' >&2\nexit 1\n")
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError || rec.ErrorMessage != "lammps: bad potential\n" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessExitStatusWithoutStderr(t *testing.T) {
	store, j := setup(t, "exit 4\n")
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError || !strings.Contains(rec.ErrorMessage, "status 4") {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessStderrOnSuccessfulExit(t *testing.T) {
	store, j := setup(t, "echo '{}' > result.json\necho warning >&2\n")
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError || strings.TrimSpace(rec.ErrorMessage) != "warning" {
		t.Fatalf("record = %+v", rec)
	}

	store, j = setup(t, "echo '{}' > result.json\necho warning >&2\n")
	lenient := NewProcess(store, Config{Interpreters: DefaultInterpreters()})
	if rec := lenient.Execute(context.Background(), j); rec.Status != job.StatusFinished {
		t.Fatalf("lenient record = %+v", rec)
	}
}

func TestProcessMissingOrMalformedResult(t *testing.T) {
	store, j := setup(t, "exit 0\n")
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError || !strings.Contains(rec.ErrorMessage, "no result.json") {
		t.Fatalf("record = %+v", rec)
	}

	store, j = setup(t, "echo '[1,2]' > result.json\n")
	rec = newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError || !strings.Contains(rec.ErrorMessage, "malformed") {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessRemovesStaleResult(t *testing.T) {
	store, j := setup(t, "exit 0\n")
	if err := os.WriteFile(filepath.Join(j.Dir, "result.json"), []byte(`{"value":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := newProcess(store).Execute(context.Background(), j)
	if rec.Status != job.StatusError {
		t.Fatalf("stale result accepted: %+v", rec)
	}
}

func TestFuncAdapter(t *testing.T) {
	calls := 0
	var e Executor = Func(func(ctx context.Context, j *job.Job) job.Record {
		calls++
		rec := j.Record.Clone()
		_ = rec.Finish(nil)
		return rec
	})
	rec := e.Execute(context.Background(), &job.Job{Name: "A", Record: job.NewRecord("A", "E0", "")})
	if calls != 1 || rec.Status != job.StatusFinished {
		t.Fatalf("calls = %d, record = %+v", calls, rec)
	}
}

func TestProcessRefusesResultFileNamedAfterParent(t *testing.T) {
	store, j := setup(t, "echo '{}' > out.json\n")
	j.Description.Parents = []string{"out"}
	if err := os.WriteFile(filepath.Join(j.Dir, "out.json"), []byte(`{"key":"out","status":"finished"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewProcess(store, Config{ResultFile: "out.json", StderrIsError: true, Interpreters: DefaultInterpreters()})
	rec := p.Execute(context.Background(), j)
	if rec.Status != job.StatusError || !strings.Contains(rec.ErrorMessage, "parent out") {
		t.Fatalf("record = %+v", rec)
	}
	data, err := os.ReadFile(filepath.Join(j.Dir, "out.json"))
	if err != nil || !strings.Contains(string(data), `"key":"out"`) {
		t.Fatalf("parent record lost: %s, %v", data, err)
	}
}
