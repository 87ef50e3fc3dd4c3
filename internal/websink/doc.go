// Package websink serves the fleet dashboard and pushes live updates to it.
//
// Browsers connect over socket.io. Every status publish is pushed as a
// "bots" event carrying the full agent map, and every chat line as a
// "chat" event. Browsers may send "sendMessage" to speak through an
// agent when web chat is enabled. The same state is readable over a small
// JSON API for scripts and health checks.
package websink
