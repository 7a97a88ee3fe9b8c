// Package postgres implements store.HistoryStore on PostgreSQL through the
// pgx database/sql driver, and owns the schema migrations for it.
package postgres
