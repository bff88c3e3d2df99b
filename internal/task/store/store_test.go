package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"coursebot/internal/task/job"
	"coursebot/internal/task/trigger"
)

func noop() job.Job {
	return job.Func(func(context.Context, *job.Context) error { return nil })
}

func data(name string) job.Data { return job.ForInstance(job.MakeKey("t", name), noop()) }

func TestAddJobRejectsDuplicatesAndInvalid(t *testing.T) {
	t.Parallel()
	m := New()
	if _, err := m.AddJob(data("a"), trigger.Manual()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddJob(data("a"), trigger.Manual()); !errors.Is(err, job.ErrDuplicateKey) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := m.AddJob(job.Data{Key: job.MakeKey("t", "b")}, trigger.Manual()); !errors.Is(err, job.ErrInvalidJob) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := m.AddJob(data("c"), nil); !errors.Is(err, job.ErrInvalidJob) {
		t.Fatalf("nil trigger is invalid, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("len=%d", m.Len())
	}
}

func TestRemoveJobIdempotent(t *testing.T) {
	t.Parallel()
	m := New()
	m.AddJob(data("a"), trigger.Manual())
	if !m.RemoveJob(job.MakeKey("t", "a")) {
		t.Fatalf("first remove should report true")
	}
	if m.RemoveJob(job.MakeKey("t", "a")) {
		t.Fatalf("second remove should report false")
	}
}

func TestSnapshotIsStable(t *testing.T) {
	t.Parallel()
	m := New()
	m.AddJob(data("a"), trigger.Manual())
	m.AddJob(data("b"), trigger.Manual())
	snap := m.EnumerateJobs()
	m.RemoveJob(job.MakeKey("t", "a"))
	m.AddJob(data("c"), trigger.Manual())
	if len(snap) != 2 || snap[0].Key().Name != "a" || snap[1].Key().Name != "b" {
		t.Fatalf("held snapshot changed: %v", snap)
	}
	cur := m.EnumerateJobs()
	if len(cur) != 2 || cur[0].Key().Name != "b" || cur[1].Key().Name != "c" {
		t.Fatalf("unexpected current snapshot")
	}
}

func TestReplaceKeepsDataAndOrder(t *testing.T) {
	t.Parallel()
	m := New()
	m.AddJob(data("a"), trigger.Manual())
	m.AddJob(data("b"), trigger.Manual())
	old, _ := m.Get(job.MakeKey("t", "a"))

	nt := trigger.Manual()
	d, err := m.Replace(job.MakeKey("t", "a"), nt)
	if err != nil {
		t.Fatal(err)
	}
	if d.Trigger() != nt || d.Data().Key != old.Data().Key || d.Data().Instance == nil {
		t.Fatalf("replace must swap the trigger and keep data")
	}
	if snap := m.EnumerateJobs(); snap[0] != d || m.Len() != 2 {
		t.Fatalf("replace should keep position")
	}

	before := m.EnumerateJobs()
	if _, err := m.Replace(job.MakeKey("t", "zzz"), nt); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if after := m.EnumerateJobs(); len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("store changed on failed replace")
	}

	if m.RemoveDescriptor(old) {
		t.Fatalf("stale descriptor must not remove its replacement")
	}
	if !m.RemoveDescriptor(d) {
		t.Fatalf("current descriptor should be removed")
	}
}

func TestUpsert(t *testing.T) {
	t.Parallel()
	m := New()
	_, replaced, err := m.Upsert(data("a"), trigger.Manual())
	if err != nil || replaced {
		t.Fatalf("first upsert: replaced=%v err=%v", replaced, err)
	}
	_, replaced, err = m.Upsert(data("a"), trigger.Manual())
	if err != nil || !replaced || m.Len() != 1 {
		t.Fatalf("second upsert: replaced=%v err=%v len=%d", replaced, err, m.Len())
	}
}

func TestConcurrentAddRemoveMatchesBookkeeping(t *testing.T) {
	t.Parallel()
	m := New()
	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	live := map[job.Key]bool{}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < perWorker; i++ {
				k := job.MakeKey("t", fmt.Sprintf("w%d-%d", w, rng.Intn(50)))
				if rng.Intn(2) == 0 {
					if _, err := m.AddJob(job.ForInstance(k, noop()), trigger.Manual()); err == nil {
						mu.Lock()
						live[k] = true
						mu.Unlock()
					}
				} else if m.RemoveJob(k) {
					mu.Lock()
					delete(live, k)
					mu.Unlock()
				}
				_ = m.EnumerateJobs()
			}
		}(w)
	}
	wg.Wait()

	snap := m.EnumerateJobs()
	if len(snap) != len(live) {
		t.Fatalf("snapshot has %d entries, bookkeeping has %d", len(snap), len(live))
	}
	seen := map[job.Key]bool{}
	for _, d := range snap {
		if seen[d.Key()] {
			t.Fatalf("duplicate %s", d.Key())
		}
		seen[d.Key()] = true
		if !live[d.Key()] {
			t.Fatalf("unexpected %s", d.Key())
		}
	}
}
