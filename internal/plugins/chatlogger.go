// ABOUTME: Chat relay to the operator log.
// ABOUTME: Lines spoken by the agent itself are skipped.

package plugins

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-fleet/internal/protocol"
)

// ChatLogger logs "<speaker> message" for chat heard by an agent.
type ChatLogger struct {
	logger *slog.Logger
}

// NewChatLogger creates a ChatLogger writing to logger.
func NewChatLogger(logger *slog.Logger) *ChatLogger {
	return &ChatLogger{logger: logger.With("plugin", "chat_logger")}
}

func (p *ChatLogger) Name() string { return "chat_logger" }

// Attach is a no-op; the logger is driven through HandleChat.
func (p *ChatLogger) Attach(context.Context, protocol.Client) {}

func (p *ChatLogger) HandleChat(self, speaker, message string) {
	if speaker == self {
		return
	}
	p.logger.Info(fmt.Sprintf("<%s> %s", speaker, message), "agent", self)
}
