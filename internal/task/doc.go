// Package task owns the image task queue and the processor that executes it.
// The Queue keeps entries ordered, bounded and numbered; the Processor runs
// pending entries with a bounded number of in-flight collaborator calls,
// cooperative pause and cancel, and a sequential retry pass for failures.
package task
