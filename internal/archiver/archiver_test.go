package archiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
	"github.com/lmhale99/iprPy-sub006/internal/library"
)

func finishedRecord(name string) job.Record {
	rec := job.NewRecord(name, "E0", "Al")
	_ = rec.Finish(map[string]any{"value": 42})
	return rec
}

func TestFinalizeStoresThenRemoves(t *testing.T) {
	jobs := jobstore.NewMemory()
	lib := library.NewMemory()
	jobs.Add("A", map[string]string{"calc_E0.in": "", "calc_E0.sh": "", "101.bid": ""})
	a := New(jobs, lib)
	ctx := context.Background()

	if err := a.Finalize(ctx, &job.Job{Name: "A"}, finishedRecord("A")); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if jobs.Len() != 0 {
		t.Fatalf("job still queued")
	}
	rec, err := lib.Find(ctx, "A")
	if err != nil || rec.Status != job.StatusFinished {
		t.Fatalf("library record = %+v, %v", rec, err)
	}
	snapshot, ok := lib.Archive("A")
	if !ok {
		t.Fatalf("no snapshot stored")
	}
	files, err := jobstore.ArchiveFiles(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := files["A/"+job.RecordFile]; !ok {
		t.Fatalf("snapshot lacks the terminal record: %v", files)
	}
}

func TestFinalizeLibraryFailureKeepsJob(t *testing.T) {
	jobs := jobstore.NewMemory()
	lib := library.NewMemory()
	jobs.Add("A", map[string]string{"calc_E0.in": ""})
	lib.FailWrites(true)
	a := New(jobs, lib)
	ctx := context.Background()

	err := a.Finalize(ctx, &job.Job{Name: "A"}, finishedRecord("A"))
	if !errors.Is(err, library.ErrUnavailable) {
		t.Fatalf("expected library failure, got %v", err)
	}
	if jobs.Len() != 1 {
		t.Fatalf("job removed despite failed library write")
	}
	data, err := jobs.ReadFile(ctx, "A", job.RecordFile)
	if err != nil {
		t.Fatalf("terminal record not kept in job for retry: %v", err)
	}
	if rec, _ := job.ParseRecord(data); rec.Status != job.StatusFinished {
		t.Fatalf("kept record = %+v", rec)
	}

	lib.FailWrites(false)
	if err := a.Finalize(ctx, &job.Job{Name: "A"}, finishedRecord("A")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if jobs.Len() != 0 {
		t.Fatalf("job still queued after retry")
	}
}

func TestFinalizeRejectsNonTerminal(t *testing.T) {
	jobs := jobstore.NewMemory()
	jobs.Add("A", nil)
	a := New(jobs, library.NewMemory())
	if err := a.Finalize(context.Background(), &job.Job{Name: "A"}, job.NewRecord("A", "E0", "")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFinalizeTwiceIsIdempotent(t *testing.T) {
	root := t.TempDir()
	jobs, err := jobstore.NewFS(filepath.Join(root, "run"))
	if err != nil {
		t.Fatal(err)
	}
	lib, err := library.NewFS(filepath.Join(root, "lib"))
	if err != nil {
		t.Fatal(err)
	}
	a := New(jobs, lib)
	ctx := context.Background()
	rec := finishedRecord("A")
	path, _ := lib.RecordPath(rec)

	var first []byte
	for i := 0; i < 2; i++ {
		if err := os.MkdirAll(filepath.Join(jobs.Root(), "A"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := a.Finalize(ctx, &job.Job{Name: "A"}, rec); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = data
		} else if string(first) != string(data) {
			t.Fatalf("record changed on re-archive:\n%s\n%s", first, data)
		}
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 2 {
		t.Fatalf("duplicate entries in library: %v", entries)
	}
}

func TestOrphanMovesJobToOrphanArea(t *testing.T) {
	jobs := jobstore.NewMemory()
	lib := library.NewMemory()
	jobs.Add("G", map[string]string{"notes.txt": "half written"})
	a := New(jobs, lib)
	ctx := context.Background()

	if err := a.Orphan(ctx, "G", "no calculation description"); err != nil {
		t.Fatalf("orphan: %v", err)
	}
	if jobs.Len() != 0 {
		t.Fatalf("orphan left in queue")
	}
	snapshot, ok := lib.OrphanArchive("G")
	if !ok {
		t.Fatalf("no orphan snapshot")
	}
	files, err := jobstore.ArchiveFiles(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if string(files["G/notes.txt"]) != "half written" || string(files["G/"+job.OrphanReasonFile]) != "no calculation description\n" {
		t.Fatalf("orphan snapshot = %v", files)
	}
}

func TestOrphanLibraryFailureKeepsJob(t *testing.T) {
	jobs := jobstore.NewMemory()
	lib := library.NewMemory()
	jobs.Add("G", nil)
	lib.FailWrites(true)
	if err := New(jobs, lib).Orphan(context.Background(), "G", "broken"); err == nil {
		t.Fatalf("expected error")
	}
	if jobs.Len() != 1 {
		t.Fatalf("job removed despite failed orphan write")
	}
}

func TestFinalizeRejectsUnstorableLayoutBeforeWriting(t *testing.T) {
	jobs := jobstore.NewMemory()
	lib := library.NewMemory()
	jobs.Add("A", map[string]string{"calc_E0.in": "", "calc_E0.sh": ""})
	a := New(jobs, lib)
	ctx := context.Background()

	rec := job.NewRecord("A", "a/b", "")
	_ = rec.Finish(nil)
	if err := a.Finalize(ctx, &job.Job{Name: "A"}, rec); !errors.Is(err, job.ErrLayout) {
		t.Fatalf("err = %v, want ErrLayout", err)
	}
	files, _ := jobs.Files(ctx, "A")
	for _, f := range files {
		if f == job.RecordFile {
			t.Fatalf("record written into a job that cannot be archived")
		}
	}
	if lib.Writes() != 0 {
		t.Fatalf("library touched %d times", lib.Writes())
	}
}
