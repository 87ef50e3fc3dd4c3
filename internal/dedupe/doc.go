// Package dedupe remembers recently seen event IDs so redelivered chat-platform
// events are handled once.
package dedupe
