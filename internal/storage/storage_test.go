package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "coursebot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("driver %q: want nil,nil got %v,%v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver must fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file driver needs a path")
	}
}

func exercise(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		r := RunRecord{
			At:      base.Add(time.Duration(i) * time.Second),
			Key:     fmt.Sprintf("g.job%d", i%2),
			Type:    "heartbeat.beat",
			RunID:   fmt.Sprintf("run-%d", i),
			Attempt: uint64(i/2 + 1),
			OK:      i%3 != 0,
			TookMS:  int64(i),
		}
		if !r.OK {
			r.Error = "boom"
		}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := st.ListRuns(ctx, RunQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 || all[0].RunID != "run-5" || all[5].RunID != "run-0" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if !all[5].At.Equal(base) || all[5].Error != "boom" || all[5].Type != "heartbeat.beat" {
		t.Fatalf("fields not round-tripped: %+v", all[5])
	}

	byKey, _ := st.ListRuns(ctx, RunQuery{Key: "g.job1", Limit: 2})
	if len(byKey) != 2 || byKey[0].RunID != "run-5" || byKey[1].RunID != "run-3" {
		t.Fatalf("key filter: %+v", byKey)
	}
	failed, _ := st.ListRuns(ctx, RunQuery{FailedOnly: true})
	if len(failed) != 2 || failed[0].RunID != "run-3" || failed[1].RunID != "run-0" {
		t.Fatalf("failed filter: %+v", failed)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data", "coursebot.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	exercise(t, st)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// History survives a reopen.
	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, _ := st.ListRuns(context.Background(), RunQuery{})
	if len(got) != 6 {
		t.Fatalf("reopen lost records: %d", len(got))
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(Config{Driver: "file", Path: path, Retain: 3}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		_ = st.AppendRun(context.Background(), RunRecord{Key: "g.n", RunID: fmt.Sprint(i), OK: true})
	}
	st.Close()

	st, _ = Open(Config{Driver: "file", Path: path, Retain: 100}, logx.Nop())
	defer st.Close()
	got, _ := st.ListRuns(context.Background(), RunQuery{Limit: 100})
	if len(got) > 6 || got[0].RunID != "9" {
		t.Fatalf("compaction should bound the file, got %d records", len(got))
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "coursebot.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	exercise(t, st)
}
