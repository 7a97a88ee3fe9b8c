// Package redis publishes processing events to Redis so that processes other
// than the host can follow a batch. Every event is sent on a pub/sub channel,
// the latest queue statistics are kept under a single key, and a short list of
// recent non-progress events is retained for late subscribers.
package redis
