// Package agent supervises the fleet of game agents.
//
// # Supervisor
//
// One Supervisor owns a session per configured account. Its Run loop is the
// only goroutine that touches sessions; protocol events, timers and queries
// all arrive as inputs on a single mailbox and are handled in order.
//
//	sup := agent.NewSupervisor(provider, dialer, fanout, logger)
//	go sup.Run(ctx)
//	sup.StartAll()
//
// # Lifecycle
//
// Each session moves through four states:
//
//	connecting -> online -> disconnected -> reconnecting -> connecting
//
// A connection that ends before spawning goes straight from connecting to
// disconnected. With auto reconnect enabled a disconnected session arms one
// reconnect timer; further disconnects while it is pending are ignored.
//
// # Generations
//
// Every dial bumps the session generation. Events and timers carry the
// generation they were created under and are dropped once it is stale, so a
// superseded connection can never act on its replacement.
package agent
