// Package events defines the notifications produced while a queue is
// processed and the plumbing that fans them out to interested handlers.
//
// The worker controller turns processor callbacks into Events on a bounded
// channel. The host drains that channel and passes each Event to an
// EventEmitter, which dispatches it to every registered EventHandler: the
// history store, the Redis publisher and any connected SSE clients.
package events
