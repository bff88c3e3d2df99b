package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retain caps how many run records are kept. 0 means 5000.
	Retain int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return 5000
	}
	return c.Retain
}

// RunRecord is one finished run. Keep it compact and schema-stable.
type RunRecord struct {
	At      time.Time `json:"at"`
	Key     string    `json:"key"`
	Type    string    `json:"type,omitempty"`
	RunID   string    `json:"run_id"`
	Attempt uint64    `json:"attempt"`
	OK      bool      `json:"ok"`
	Panic   bool      `json:"panic,omitempty"`
	Aborted bool      `json:"aborted,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// RunQuery filters ListRuns. Results are newest first.
type RunQuery struct {
	Key        string
	FailedOnly bool
	Limit      int // 0 means 50
}

func (q RunQuery) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

func (q RunQuery) match(r RunRecord) bool {
	if q.Key != "" && r.Key != q.Key {
		return false
	}
	if q.FailedOnly && r.OK {
		return false
	}
	return true
}
