package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/store/memory"
)

func TestAppendSentStampsSentAt(t *testing.T) {
	st := memory.New().Bundle()
	ctx := context.Background()

	resolved, err := NewResolver(st.Conversations).Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	log := NewLog(st.Messages, st.Conversations)

	msg, err := log.Append(ctx, AppendParams{
		ConversationID: resolved.Conversation.ID,
		SenderID:       "agent1",
		ReceiverID:     "5551234567",
		Body:           "hello",
		Direction:      messaging.DirectionOutbound,
		Status:         messaging.StatusSent,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.NotNil(t, msg.SentAt)
	require.Equal(t, msg.CreatedAt, *msg.SentAt)

	// The conversation watermark advances with the append.
	conv, err := st.Conversations.Get(ctx, resolved.Conversation.ID)
	require.NoError(t, err)
	require.Equal(t, msg.CreatedAt, conv.LastMessageAt)
}

func TestAppendDraftHasNoSentAt(t *testing.T) {
	st := memory.New().Bundle()
	ctx := context.Background()

	resolved, err := NewResolver(st.Conversations).Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	log := NewLog(st.Messages, st.Conversations)

	msg, err := log.Append(ctx, AppendParams{
		ConversationID: resolved.Conversation.ID,
		SenderID:       "agent1",
		ReceiverID:     "5551234567",
		Body:           "pending review",
		Direction:      messaging.DirectionOutbound,
		Status:         messaging.StatusDraft,
		Metadata:       messaging.Metadata{Automated: true, Type: messaging.TriggerBirthday},
	})
	require.NoError(t, err)
	require.Nil(t, msg.SentAt)
}

func TestAppendRejectsIllegalState(t *testing.T) {
	st := memory.New().Bundle()
	ctx := context.Background()

	resolved, err := NewResolver(st.Conversations).Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	log := NewLog(st.Messages, st.Conversations)

	// A draft without automated metadata is a manual draft, which the
	// state machine forbids.
	_, err = log.Append(ctx, AppendParams{
		ConversationID: resolved.Conversation.ID,
		SenderID:       "agent1",
		ReceiverID:     "5551234567",
		Body:           "manual draft",
		Direction:      messaging.DirectionOutbound,
		Status:         messaging.StatusDraft,
	})
	var se *messaging.StateError
	require.ErrorAs(t, err, &se)

	// Nothing was persisted.
	_, total, err := st.Messages.List(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}
