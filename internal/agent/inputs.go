// ABOUTME: Mailbox inputs consumed by the supervisor loop.
// ABOUTME: Events come from connections and timers, commands from callers.

package agent

import (
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/status"
)

type input interface {
	isInput()
}

type cmdStart struct {
	account AgentConfig
}

type cmdSnapshots struct {
	reply chan map[string]status.Snapshot
}

type cmdSessions struct {
	reply chan []SessionInfo
}

type cmdSendChat struct {
	agentID string
	message string
	reply   chan bool
}

type evProtocol struct {
	agentID string
	gen     uint64
	event   protocol.Event
}

type evReconnectDue struct {
	agentID string
	gen     uint64
}

type evRespawnDue struct {
	agentID string
	gen     uint64
}

type evBootstrapDue struct {
	agentID string
	gen     uint64
	step    int
}

func (cmdStart) isInput()       {}
func (cmdSnapshots) isInput()   {}
func (cmdSessions) isInput()    {}
func (cmdSendChat) isInput()    {}
func (evProtocol) isInput()     {}
func (evReconnectDue) isInput() {}
func (evRespawnDue) isInput()   {}
func (evBootstrapDue) isInput() {}
