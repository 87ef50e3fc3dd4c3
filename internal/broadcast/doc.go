// Package broadcast fans agent status and chat out to independent sinks.
//
// Every sink gets its own worker goroutine. Status updates replace whatever
// the worker has not delivered yet, so a slow sink always catches up to the
// latest value. Chat lines queue in a bounded buffer and are dropped when a
// sink falls too far behind. A failing or panicking sink is logged and never
// affects the others or the publisher.
//
// A periodic tick pulls fresh snapshots from a Source and re-delivers them to
// any sink whose last delivered document differs.
package broadcast
