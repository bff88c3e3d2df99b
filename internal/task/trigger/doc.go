// Package trigger provides the readiness/retirement policies used by the
// scheduler: one-shot, fixed-delay interval, cron, bounded-count and manual.
//
// Every trigger is safe for concurrent use. Time comes from an injectable
// Clock so tests can drive triggers deterministically.
package trigger
