// Package conversation implements conversation resolution and the
// append-only message log.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

// Resolver finds or creates the single active conversation for a client.
type Resolver struct {
	conversations store.ConversationRepository
	now           func() time.Time
}

func NewResolver(conversations store.ConversationRepository) *Resolver {
	return &Resolver{
		conversations: conversations,
		now:           time.Now,
	}
}

// Resolved is the resolver result plus whether the conversation was
// created by this call. Welcome triggers fire only on Created.
type Resolved struct {
	Conversation *messaging.Conversation
	Created      bool
}

// Lookup finds the active conversation for the deal's client without
// creating one. Returns (nil, nil) when none exists.
func (r *Resolver) Lookup(ctx context.Context, dealID, agencyID, clientPhone string) (*messaging.Conversation, error) {
	phone := messaging.NormalizePhone(clientPhone)

	if dealID != "" {
		conv, err := r.conversations.ActiveByDeal(ctx, dealID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	conv, err := r.conversations.ActiveByPhone(ctx, agencyID, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// Resolve returns the active conversation for the deal's client,
// creating one if none exists.
//
// Lookup order: by deal first, then by (agency, phone). A client with an
// active thread under a different deal of the same agency reuses that
// thread; one client never holds two live conversations. Creation relies
// on the store's uniqueness constraint: the loser of a concurrent create
// re-reads and returns the winner's row.
func (r *Resolver) Resolve(ctx context.Context, dealID, agencyID, agentID, clientPhone string) (*Resolved, error) {
	phone := messaging.NormalizePhone(clientPhone)
	if phone == "" {
		return nil, fmt.Errorf("resolve conversation: empty client phone")
	}

	if dealID != "" {
		conv, err := r.conversations.ActiveByDeal(ctx, dealID)
		if err == nil {
			return &Resolved{Conversation: conv}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	conv, err := r.conversations.ActiveByPhone(ctx, agencyID, phone)
	if err == nil {
		return &Resolved{Conversation: conv}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := r.now()
	fresh := &messaging.Conversation{
		ID:          uuid.NewString(),
		AgencyID:    agencyID,
		AgentID:     agentID,
		DealID:      dealID,
		ClientPhone: phone,
		Type:        messaging.ConversationTypeSMS,
		IsActive:    true,
		OptInStatus: messaging.OptInUnknown,
		CreatedAt:   now,
	}

	switch err := r.conversations.Create(ctx, fresh); {
	case err == nil:
		logger.InfoCF("conversation", "Conversation created", map[string]any{
			"conversation_id": fresh.ID,
			"agency_id":       agencyID,
			"deal_id":         dealID,
		})
		return &Resolved{Conversation: fresh, Created: true}, nil
	case errors.Is(err, store.ErrConflict):
		// Lost the race; the winner's row satisfies the caller.
		winner, rerr := r.conversations.ActiveByPhone(ctx, agencyID, phone)
		if rerr != nil {
			return nil, fmt.Errorf("re-reading conversation after conflict: %w", rerr)
		}
		return &Resolved{Conversation: winner}, nil
	default:
		return nil, err
	}
}
