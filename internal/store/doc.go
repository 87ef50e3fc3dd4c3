// Package store persists chat heard by agents so the dashboard chat log
// survives restarts.
//
// SQLiteStore is the production implementation (modernc.org/sqlite, WAL
// journal, schema created on open). MockStore is an in-memory stand-in for
// tests.
package store
