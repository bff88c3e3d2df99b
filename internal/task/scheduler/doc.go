// Package scheduler owns the job store and the polling loop that decides when
// stored jobs run.
//
// The loop only decides. Instantiation, hooks and the panic boundary live in
// internal/task/executor, and the thread a body runs on is chosen by the
// executor's dispatcher (the shared task engine pool by default).
package scheduler
