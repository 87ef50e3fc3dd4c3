// ABOUTME: Tests for the protocol driver registry.
// ABOUTME: Covers lookup, unknown names and duplicate registration.

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopDialer() Dialer {
	return DialerFunc(func(context.Context, DialOptions, Handler) (Client, error) {
		return nil, ErrNotConnected
	})
}

func TestRegisterAndLookup(t *testing.T) {
	Register("registry-test", nopDialer())

	d, err := Lookup("registry-test")
	require.NoError(t, err)
	_, err = d.Dial(context.Background(), DialOptions{}, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, Drivers(), "registry-test")
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("no-such-driver")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-driver")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Register("registry-dup", nopDialer())
	assert.Panics(t, func() { Register("registry-dup", nopDialer()) })
	assert.Panics(t, func() { Register("registry-nil", nil) })
}

func TestEvent_Disconnect(t *testing.T) {
	assert.True(t, Event{Kind: EventKicked}.Disconnect())
	assert.True(t, Event{Kind: EventEnd}.Disconnect())
	assert.False(t, Event{Kind: EventError}.Disconnect())
	assert.False(t, Event{Kind: EventDeath}.Disconnect())
}
