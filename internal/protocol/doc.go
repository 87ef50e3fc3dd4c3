// Package protocol defines the boundary between the supervisor and a game
// protocol client: the capabilities a connected agent exposes, the events it
// emits, and a registry of dialer implementations selected by name.
//
// Implementations must deliver events on their own goroutine and never call
// the Handler from inside Dial.
package protocol
