// Package matrixsink keeps a live fleet status notice in a Matrix room.
//
// A room member posts the activation command; the sink reacts to it, sends
// one status notice and then edits that notice on a fixed schedule. Only
// one room is served at a time. Activating another room cancels the
// previous refresh loop.
package matrixsink
