// Package worker bridges a host and the task processor.
//
// A Controller owns the processor for one queue. Start runs the processor on
// a goroutine locked to its own OS thread; pause, resume and cancel requests
// are queued on a command channel and applied by that run; everything the
// processor reports comes back on a bounded event channel that the host
// drains on its own loop.
package worker
