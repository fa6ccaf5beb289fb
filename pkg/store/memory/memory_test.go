package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

func conv(id, agency, phone string) *messaging.Conversation {
	return &messaging.Conversation{
		ID:          id,
		AgencyID:    agency,
		AgentID:     "agent1",
		ClientPhone: phone,
		Type:        messaging.ConversationTypeSMS,
		IsActive:    true,
		OptInStatus: messaging.OptInUnknown,
		CreatedAt:   time.Now(),
	}
}

func TestCreateEnforcesActiveUniqueness(t *testing.T) {
	st := New()
	repos := st.Bundle()
	ctx := context.Background()

	require.NoError(t, repos.Conversations.Create(ctx, conv("c1", "ag1", "5551234567")))

	err := repos.Conversations.Create(ctx, conv("c2", "ag1", "5551234567"))
	require.ErrorIs(t, err, store.ErrConflict)

	// Different agency or phone is a separate thread.
	require.NoError(t, repos.Conversations.Create(ctx, conv("c3", "ag2", "5551234567")))
	require.NoError(t, repos.Conversations.Create(ctx, conv("c4", "ag1", "5559999999")))

	// Once the active thread closes, a new one may open.
	require.NoError(t, st.Deactivate("c1"))
	require.NoError(t, repos.Conversations.Create(ctx, conv("c5", "ag1", "5551234567")))
}

func TestClaimIsExactlyOnce(t *testing.T) {
	repos := New().Bundle()
	ctx := context.Background()
	day := time.Date(2026, time.April, 12, 9, 0, 0, 0, time.UTC)

	claimed, err := repos.Ledger.Claim(ctx, "deal1", messaging.TriggerBirthday, day)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repos.Ledger.Claim(ctx, "deal1", messaging.TriggerBirthday, day)
	require.NoError(t, err)
	require.False(t, claimed)

	// A different type, deal or day is a fresh key.
	claimed, _ = repos.Ledger.Claim(ctx, "deal1", messaging.TriggerBillingReminder, day)
	require.True(t, claimed)
	claimed, _ = repos.Ledger.Claim(ctx, "deal2", messaging.TriggerBirthday, day)
	require.True(t, claimed)
	claimed, _ = repos.Ledger.Claim(ctx, "deal1", messaging.TriggerBirthday, day.AddDate(0, 0, 1))
	require.True(t, claimed)
}

func TestClaimConcurrent(t *testing.T) {
	repos := New().Bundle()
	ctx := context.Background()
	day := time.Now()

	const n = 32
	wins := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repos.Ledger.Claim(ctx, "deal1", messaging.TriggerBirthday, day)
			if err != nil {
				t.Error(err)
				return
			}
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one claimant may win a key")
}

func seedMessages(t *testing.T, repos store.Store) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repos.Conversations.Create(ctx, conv("c1", "ag1", "5551234567")))

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []messaging.Status{
		messaging.StatusSent, messaging.StatusSent, messaging.StatusDraft,
		messaging.StatusReceived, messaging.StatusFailed,
	} {
		dir := messaging.DirectionOutbound
		if s == messaging.StatusReceived {
			dir = messaging.DirectionInbound
		}
		require.NoError(t, repos.Messages.Insert(ctx, &messaging.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "c1",
			Body:           "m",
			Direction:      dir,
			Status:         s,
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}))
	}
	return "c1"
}

func TestListFilters(t *testing.T) {
	repos := New().Bundle()
	seedMessages(t, repos)
	ctx := context.Background()

	_, total, err := repos.Messages.List(ctx, store.MessageFilter{Status: messaging.StatusSent})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	_, total, err = repos.Messages.List(ctx, store.MessageFilter{Direction: messaging.DirectionInbound})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	_, total, err = repos.Messages.List(ctx, store.MessageFilter{AgencyID: "ag2"})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestListPagination(t *testing.T) {
	repos := New().Bundle()
	seedMessages(t, repos)
	ctx := context.Background()

	page1, total, err := repos.Messages.List(ctx, store.MessageFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page1, 2)

	// Newest first.
	require.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))

	page3, _, err := repos.Messages.List(ctx, store.MessageFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page3, 1)

	empty, _, err := repos.Messages.List(ctx, store.MessageFilter{Limit: 2, Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDraftMutations(t *testing.T) {
	repos := New().Bundle()
	ctx := context.Background()
	require.NoError(t, repos.Conversations.Create(ctx, conv("c1", "ag1", "5551234567")))
	require.NoError(t, repos.Messages.Insert(ctx, &messaging.Message{
		ID: "d1", ConversationID: "c1", Body: "draft", Direction: messaging.DirectionOutbound,
		Status: messaging.StatusDraft, Metadata: messaging.Metadata{Automated: true},
	}))

	_, err := repos.Messages.ApproveDraft(ctx, "missing", time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)

	msg, err := repos.Messages.ApproveDraft(ctx, "d1", time.Now())
	require.NoError(t, err)
	require.Equal(t, messaging.StatusSent, msg.Status)

	_, err = repos.Messages.ApproveDraft(ctx, "d1", time.Now())
	require.ErrorIs(t, err, store.ErrNotDraft)

	_, err = repos.Messages.UpdateDraftBody(ctx, "d1", "nope")
	require.ErrorIs(t, err, store.ErrNotDraft)

	deleted, err := repos.Messages.DeleteDraft(ctx, "d1")
	require.NoError(t, err)
	require.False(t, deleted, "sent rows are never deleted by rejection")
}
