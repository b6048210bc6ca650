// Package history persists verdicts and corrections per run in SQLite and
// evicts runs older than the configured retention.
package history
