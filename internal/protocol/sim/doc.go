// Package sim is an in-process game world that implements protocol.Dialer.
//
// It backs the "sim" driver used by `coven-fleet serve --sim` and by tests
// that need to kill, kick or chat through agents without a real server.
package sim
