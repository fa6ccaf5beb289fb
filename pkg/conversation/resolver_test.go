package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/store/memory"
)

func TestResolveCreatesConversation(t *testing.T) {
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	resolved, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "+1 (555) 123-4567")
	require.NoError(t, err)
	require.True(t, resolved.Created)

	conv := resolved.Conversation
	require.Equal(t, "5551234567", conv.ClientPhone, "phone must be stored normalized")
	require.Equal(t, messaging.ConversationTypeSMS, conv.Type)
	require.True(t, conv.IsActive)
	require.Equal(t, messaging.OptInUnknown, conv.OptInStatus)
	require.NotEmpty(t, conv.ID)
}

func TestResolveReusesByDeal(t *testing.T) {
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)

	second, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestResolveReusesAcrossDeals(t *testing.T) {
	// Same client, second policy with the same agency: the existing
	// thread is reused, never a second live conversation.
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)

	second, err := r.Resolve(ctx, "deal2", "ag1", "agent1", "+15551234567")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestResolveSeparateAgencies(t *testing.T) {
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "deal2", "ag2", "agent2", "5551234567")
	require.NoError(t, err)
	require.NotEqual(t, a.Conversation.ID, b.Conversation.ID,
		"the same client at two agencies holds two separate threads")
}

func TestResolveEmptyPhone(t *testing.T) {
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)

	_, err := r.Resolve(context.Background(), "deal1", "ag1", "agent1", "")
	require.Error(t, err)
}

func TestResolveConcurrent(t *testing.T) {
	st := memory.New().Bundle()
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := NewResolver(st.Conversations)
			resolved, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = resolved.Conversation.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, ids[0], ids[i], "concurrent resolvers must converge on one conversation")
	}
}

// conflictRepo simulates losing the create race: the phone lookup
// misses until Create reports a conflict, then finds the winner's row.
type conflictRepo struct {
	store.ConversationRepository
	winner   *messaging.Conversation
	conflict bool
}

func (r *conflictRepo) Create(ctx context.Context, conv *messaging.Conversation) error {
	r.conflict = true
	return store.ErrConflict
}

func (r *conflictRepo) ActiveByDeal(ctx context.Context, dealID string) (*messaging.Conversation, error) {
	return nil, store.ErrNotFound
}

func (r *conflictRepo) ActiveByPhone(ctx context.Context, agencyID, clientPhone string) (*messaging.Conversation, error) {
	if !r.conflict {
		return nil, store.ErrNotFound
	}
	return r.winner, nil
}

func TestResolveLosingRaceReturnsWinner(t *testing.T) {
	winner := &messaging.Conversation{ID: "winner", AgencyID: "ag1", ClientPhone: "5551234567"}
	r := NewResolver(&conflictRepo{winner: winner})

	resolved, err := r.Resolve(context.Background(), "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	require.False(t, resolved.Created)
	require.Equal(t, "winner", resolved.Conversation.ID)
}

func TestLookup(t *testing.T) {
	st := memory.New().Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	conv, err := r.Lookup(ctx, "deal1", "ag1", "5551234567")
	require.NoError(t, err)
	require.Nil(t, conv, "lookup never creates")

	created, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)

	conv, err = r.Lookup(ctx, "deal1", "ag1", "5551234567")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, created.Conversation.ID, conv.ID)

	// Lookup by phone alone also finds the thread.
	conv, err = r.Lookup(ctx, "", "ag1", "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, conv)
}

func TestDeactivateAllowsNewThread(t *testing.T) {
	mem := memory.New()
	st := mem.Bundle()
	r := NewResolver(st.Conversations)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	require.NoError(t, mem.Deactivate(first.Conversation.ID))

	second, err := r.Resolve(ctx, "deal1", "ag1", "agent1", "5551234567")
	require.NoError(t, err)
	require.True(t, second.Created)
	require.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}
