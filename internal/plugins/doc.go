// Package plugins holds the behavior units attached to a live agent
// connection.
//
// A plugin runs until the context passed to Attach is cancelled, which the
// supervisor does when the connection ends. Every tick re-checks the
// connection and does nothing if the entity is gone.
package plugins
