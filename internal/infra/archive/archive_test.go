package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "archive.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	a := openTest(t)
	ctx := context.Background()
	finished := time.UnixMilli(1_700_000_000_000)
	rec := Record{
		TaskID:     "t1",
		RepoKey:    "github.com/octo/hello",
		Branch:     "main",
		Status:     "done",
		Copied:     3,
		TotalFiles: 3,
		TotalBytes: 42,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
	if err := a.Save(ctx, []Record{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := a.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RepoKey != rec.RepoKey || got.Copied != 3 || got.TotalBytes != 42 || !got.FinishedAt.Equal(finished) {
		t.Fatalf("record = %+v", got)
	}
	if !got.StartedAt.IsZero() {
		t.Fatalf("zero time not preserved: %v", got.StartedAt)
	}

	rec.Status = "error"
	if err := a.Save(ctx, []Record{rec}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = a.Get(ctx, "t1")
	if got.Status != "error" {
		t.Fatalf("status = %s", got.Status)
	}

	if _, err := a.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentAndPrune(t *testing.T) {
	t.Parallel()

	a := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	var records []Record
	for i, id := range []string{"a", "b", "c"} {
		records = append(records, Record{
			TaskID:     id,
			RepoKey:    "h/o/r",
			Branch:     "main",
			Status:     "done",
			CreatedAt:  base,
			FinishedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	if err := a.Save(ctx, records); err != nil {
		t.Fatalf("save: %v", err)
	}
	recent, err := a.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].TaskID != "c" || recent[1].TaskID != "b" {
		t.Fatalf("recent = %+v", recent)
	}
	n, err := a.Prune(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	recent, _ = a.Recent(ctx, 10)
	if len(recent) != 1 || recent[0].TaskID != "c" {
		t.Fatalf("after prune = %+v", recent)
	}
}
