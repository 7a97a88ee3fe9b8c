// Package store defines the persistence contracts for task history.
//
// Implementations live under internal/platform; the host only depends on the
// interfaces and sentinel errors declared here.
package store
