package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "restman/pkg/logx"
)

func record(task string, start time.Time, exit int, outcome string) RunRecord {
	return RunRecord{
		Task:       task,
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		ExitCode:   exit,
		Outcome:    outcome,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "None"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: store=%v err=%v", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAndQuery(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := st.AppendRun(ctx, record("nightly", base.Add(time.Duration(i)*time.Hour), 0, "ok")); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.AppendRun(ctx, record("weekly", base, 1, "fail")); err != nil {
		t.Fatal(err)
	}

	got, err := st.RecentRuns(ctx, "nightly", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// newest first
	if !got[0].StartedAt.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("first record started %s, want newest", got[0].StartedAt)
	}
	for _, r := range got {
		if r.Task != "nightly" {
			t.Fatalf("task filter leaked %q", r.Task)
		}
	}

	all, err := st.RecentRuns(ctx, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("got %d records, want 6", len(all))
	}
}

func TestFileTornLastLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.AppendRun(ctx, record("nightly", time.Now(), 0, "ok")); err != nil {
		t.Fatal(err)
	}
	st.Close()

	// Simulate a crash mid-append.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"task":"nightly","started`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	got, err := st2.RecentRuns(ctx, "nightly", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("torn line must be skipped; got %d records", len(got))
	}
}

func TestFileQueryMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st, err := openFile(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	got, err := st.RecentRuns(context.Background(), "", 10)
	if err != nil || got != nil {
		t.Fatalf("missing file must read as empty history: %v %v", got, err)
	}
}
