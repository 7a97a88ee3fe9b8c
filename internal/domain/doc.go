// Package domain contains the core entities of the compositing engine: the
// image task and its lifecycle, queue statistics, per-task processing
// configuration, and validation of the image files a task consumes. It has no
// dependencies on scheduling, transport or storage.
package domain
