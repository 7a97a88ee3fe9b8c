// Package imaging runs the per-task image flow: validate the inputs, load
// them, optionally remove the product background, composite the product into
// the background and write the result. The AI work is delegated to a Service.
package imaging
