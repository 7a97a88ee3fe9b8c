// Package logger configures structured logging with log/slog and carries
// request-scoped loggers through a context.Context.
package logger
