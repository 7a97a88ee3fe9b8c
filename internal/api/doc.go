// Package api exposes the batch controller over HTTP. Handlers translate
// requests into controller calls, map controller and queue errors onto status
// codes, stream controller events as server-sent events and serve the
// persisted task history.
package api
