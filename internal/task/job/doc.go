// Package job holds the value types and contracts shared by the scheduler:
// keys, job data, descriptors, per-run contexts, results, and the Job,
// Trigger and Listener interfaces.
package job
