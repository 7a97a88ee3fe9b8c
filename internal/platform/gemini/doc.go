// Package gemini provides an implementation of the imaging.Service interface
// backed by Google's Gemini image models.
//
// The adapter sends image bytes as inline data together with a text
// instruction and extracts the first inline image from the response.
// Transient failures (rate limiting, server errors, timeouts) are retried
// with exponential backoff and jitter; content blocked by safety filters is
// reported immediately. Every error returned wraps imaging.ErrService so the
// task processor treats it as a retryable task failure.
package gemini
