package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

// Log appends messages to conversations, enforcing state-machine
// legality before any write.
type Log struct {
	messages      store.MessageRepository
	conversations store.ConversationRepository
	now           func() time.Time
}

func NewLog(messages store.MessageRepository, conversations store.ConversationRepository) *Log {
	return &Log{
		messages:      messages,
		conversations: conversations,
		now:           time.Now,
	}
}

// AppendParams describes a message to append. ID and CreatedAt are
// assigned by the log; SentAt is stamped for immediate sends.
type AppendParams struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Body           string
	Direction      messaging.Direction
	Status         messaging.Status
	Metadata       messaging.Metadata
}

// Append validates and persists a message, then advances the
// conversation's lastMessageAt watermark.
func (l *Log) Append(ctx context.Context, p AppendParams) (*messaging.Message, error) {
	now := l.now()
	msg := &messaging.Message{
		ID:             uuid.NewString(),
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Body:           p.Body,
		Direction:      p.Direction,
		Status:         p.Status,
		Metadata:       p.Metadata,
		CreatedAt:      now,
	}
	if p.Status == messaging.StatusSent || p.Status == messaging.StatusReceived {
		at := now
		msg.SentAt = &at
	}

	if err := messaging.ValidateNew(msg); err != nil {
		return nil, err
	}
	if err := l.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}
	if err := l.conversations.TouchLastMessage(ctx, p.ConversationID, now); err != nil {
		// The message row is committed; a stale watermark is not worth
		// failing the append over.
		logger.WarnCF("conversation", "Failed to advance lastMessageAt", map[string]any{
			"conversation_id": p.ConversationID,
			"error":           err.Error(),
		})
	}
	return msg, nil
}
