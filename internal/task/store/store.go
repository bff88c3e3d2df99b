// Package store keeps scheduled job descriptors in memory.
//
// All mutation happens under one mutex. Readers get an immutable snapshot
// slice; writers build a new slice instead of editing the shared one.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"coursebot/internal/task/job"
)

type Memory struct {
	mu    sync.Mutex
	index map[job.Key]*job.Descriptor
	order []*job.Descriptor

	snap atomic.Pointer[[]*job.Descriptor]
}

func New() *Memory {
	m := &Memory{index: make(map[job.Key]*job.Descriptor)}
	m.publishLocked()
	return m
}

// AddJob stores a new descriptor for data.Key.
func (m *Memory) AddJob(data job.Data, trig job.Trigger) (*job.Descriptor, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if trig == nil {
		return nil, fmt.Errorf("%w: %s has no trigger", job.ErrInvalidJob, data.Key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[data.Key]; ok {
		return nil, fmt.Errorf("%w: %s", job.ErrDuplicateKey, data.Key)
	}
	d := job.NewDescriptor(data, trig)
	m.index[d.Key()] = d
	m.order = append(m.order[:len(m.order):len(m.order)], d)
	m.publishLocked()
	return d, nil
}

// Upsert stores data under its key, replacing any existing descriptor.
// It reports whether an old descriptor was replaced.
func (m *Memory) Upsert(data job.Data, trig job.Trigger) (*job.Descriptor, bool, error) {
	if err := data.Validate(); err != nil {
		return nil, false, err
	}
	if trig == nil {
		return nil, false, fmt.Errorf("%w: %s has no trigger", job.ErrInvalidJob, data.Key)
	}
	d := job.NewDescriptor(data, trig)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, replaced := m.index[d.Key()]
	m.putLocked(d)
	return d, replaced, nil
}

// Replace swaps the trigger of an existing descriptor in one step; the job
// data is kept. The store is unchanged when the key is unknown.
func (m *Memory) Replace(key job.Key, trig job.Trigger) (*job.Descriptor, error) {
	if trig == nil {
		return nil, fmt.Errorf("%w: %s has no trigger", job.ErrInvalidJob, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, key)
	}
	d := old.WithTrigger(trig)
	m.putLocked(d)
	return d, nil
}

// RemoveJob is idempotent and reports whether something was removed.
func (m *Memory) RemoveJob(key job.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.index[key]
	if !ok {
		return false
	}
	m.deleteLocked(d)
	return true
}

// RemoveDescriptor removes d only if it is still the descriptor stored under
// its key. A descriptor replaced by Reschedule is left alone.
func (m *Memory) RemoveDescriptor(d *job.Descriptor) bool {
	if d == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.index[d.Key()]; !ok || cur != d {
		return false
	}
	m.deleteLocked(d)
	return true
}

func (m *Memory) Get(key job.Key) (*job.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.index[key]
	return d, ok
}

// EnumerateJobs returns the current snapshot in insertion order. The slice
// must not be modified.
func (m *Memory) EnumerateJobs() []*job.Descriptor {
	return *m.snap.Load()
}

func (m *Memory) Len() int { return len(m.EnumerateJobs()) }

func (m *Memory) putLocked(d *job.Descriptor) {
	next := make([]*job.Descriptor, 0, len(m.order)+1)
	replaced := false
	for _, cur := range m.order {
		if cur.Key() == d.Key() {
			next = append(next, d)
			replaced = true
			continue
		}
		next = append(next, cur)
	}
	if !replaced {
		next = append(next, d)
	}
	m.index[d.Key()] = d
	m.order = next
	m.publishLocked()
}

func (m *Memory) deleteLocked(d *job.Descriptor) {
	next := make([]*job.Descriptor, 0, len(m.order))
	for _, cur := range m.order {
		if cur != d {
			next = append(next, cur)
		}
	}
	delete(m.index, d.Key())
	m.order = next
	m.publishLocked()
}

func (m *Memory) publishLocked() {
	s := m.order
	m.snap.Store(&s)
}
