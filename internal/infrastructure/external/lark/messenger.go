package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/application/port"
)

const receiveIDChat = "chat_id"

// messageCreator is the slice of the SDK the messenger needs
type messageCreator interface {
	CreateMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// Messenger implements port.MessageSender over the Lark IM API
type Messenger struct {
	api    messageCreator
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(api messageCreator, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		api:    api,
		logger: logger,
	}
}

// SendText sends a plain text message to a group chat
func (m *Messenger) SendText(ctx context.Context, chatID string, content string) error {
	if chatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}
	if content == "" {
		return fmt.Errorf("content cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("failed to marshal text content: %w", err)
	}

	messageID, err := m.api.CreateMessage(ctx, receiveIDChat, chatID, "text", string(body))
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	m.logger.Info("Message sent", zap.String("chat_id", chatID), zap.String("message_id", messageID))
	return nil
}

// SendCard sends an interactive card to a group chat
func (m *Messenger) SendCard(ctx context.Context, chatID string, card interface{}) error {
	if chatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}
	if card == nil {
		return fmt.Errorf("card cannot be nil")
	}

	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	messageID, err := m.api.CreateMessage(ctx, receiveIDChat, chatID, "interactive", string(cardJSON))
	if err != nil {
		return fmt.Errorf("failed to send card message: %w", err)
	}
	m.logger.Info("Card sent", zap.String("chat_id", chatID), zap.String("message_id", messageID))
	return nil
}

// Verify interface compliance
var _ port.MessageSender = (*Messenger)(nil)
