// Package store defines the persistence interfaces the messaging core
// depends on, plus the read models for external collaborator data
// (deals, agents, agency configuration).
//
// Implementations live in store/memory (tests, local development) and
// store/postgres (production). Correctness of conversation dedup and
// trigger idempotency rests on the store enforcing its unique
// constraints atomically; callers never take application-level locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agencyos/textline/pkg/eligibility"
	"github.com/agencyos/textline/pkg/messaging"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert loses a uniqueness race.
	// Resolvers react by re-reading the winner's row.
	ErrConflict = errors.New("store: conflict")
	// ErrNotDraft is returned by draft mutations when the message has
	// already transitioned out of draft.
	ErrNotDraft = errors.New("store: message is not a draft")
)

// BillingCycle is a policy's billing frequency.
type BillingCycle string

const (
	BillingMonthly      BillingCycle = "monthly"
	BillingQuarterly    BillingCycle = "quarterly"
	BillingSemiAnnually BillingCycle = "semi-annually"
	BillingAnnually     BillingCycle = "annually"
)

// Months returns the cycle length in calendar months, 0 for unknown.
func (c BillingCycle) Months() int {
	switch c {
	case BillingMonthly:
		return 1
	case BillingQuarterly:
		return 3
	case BillingSemiAnnually:
		return 6
	case BillingAnnually:
		return 12
	default:
		return 0
	}
}

// Deal is the read model for a policy sold to a client. Owned by the
// policy platform; textline consumes it read-only.
type Deal struct {
	ID                  string
	AgencyID            string
	AgentID             string
	ClientName          string
	ClientPhone         string
	ClientEmail         string
	DateOfBirth         time.Time // zero when unknown
	PolicyEffectiveDate time.Time
	BillingCycle        BillingCycle
	PolicyActive        bool
}

// Agent is the writing-agent read model.
type Agent struct {
	ID       string
	AgencyID string
	Name     string
	Phone    string
	Tier     eligibility.Tier
	// AutoSendOverride: nil inherits the agency default.
	AutoSendOverride *bool
}

// Agency is the tenant read model.
type Agency struct {
	ID            string
	Name          string
	SendingNumber string
}

// ConversationRepository persists conversations. Create must enforce a
// unique constraint over (agencyID, clientPhone, type, isActive=true)
// and return ErrConflict when it is violated.
type ConversationRepository interface {
	Create(ctx context.Context, conv *messaging.Conversation) error
	Get(ctx context.Context, id string) (*messaging.Conversation, error)
	ActiveByDeal(ctx context.Context, dealID string) (*messaging.Conversation, error)
	ActiveByPhone(ctx context.Context, agencyID, clientPhone string) (*messaging.Conversation, error)
	SetOptIn(ctx context.Context, id string, status messaging.OptInStatus, at time.Time) error
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

// MessageFilter narrows List queries. Zero fields match everything.
type MessageFilter struct {
	ConversationID string
	AgencyID       string
	Status         messaging.Status
	Direction      messaging.Direction
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// MessageRepository persists messages. The draft mutations are atomic:
// they check status==draft and mutate in one step so two approvers
// cannot both win.
type MessageRepository interface {
	Insert(ctx context.Context, msg *messaging.Message) error
	Get(ctx context.Context, id string) (*messaging.Message, error)
	// ApproveDraft flips draft -> sent and stamps sentAt. ErrNotFound if
	// the id is unknown, ErrNotDraft if it already transitioned.
	ApproveDraft(ctx context.Context, id string, sentAt time.Time) (*messaging.Message, error)
	// UpdateDraftBody edits a draft in place; same error contract.
	UpdateDraftBody(ctx context.Context, id, body string) (*messaging.Message, error)
	// DeleteDraft removes a draft row. Deleting a non-draft or missing
	// id reports false with no error; rejection of an already-acted
	// message is a no-op.
	DeleteDraft(ctx context.Context, id string) (bool, error)
	// MarkFailed records a carrier failure after commit.
	MarkFailed(ctx context.Context, id string) error
	List(ctx context.Context, f MessageFilter) ([]messaging.Message, int, error)
}

// TriggerLedger is the idempotency store for automated sends. Claim is
// an atomic compare-and-insert on (dealID, triggerType, day): it reports
// true exactly once per key.
type TriggerLedger interface {
	Claim(ctx context.Context, dealID string, t messaging.TriggerType, day time.Time) (bool, error)
}

// DealRepository reads policy deals from the platform.
type DealRepository interface {
	ListActive(ctx context.Context) ([]Deal, error)
	// FindByClientPhone returns the first deal within the agency whose
	// client phone matches, or ErrNotFound.
	FindByClientPhone(ctx context.Context, agencyID, clientPhone string) (*Deal, error)
}

// Directory reads tenant and agent records.
type Directory interface {
	Agency(ctx context.Context, id string) (*Agency, error)
	AgencyBySendingNumber(ctx context.Context, number string) (*Agency, error)
	Agent(ctx context.Context, id string) (*Agent, error)
}

// AgencyConfigSource batch-fetches messaging configuration for the
// agencies a trigger run touches.
type AgencyConfigSource interface {
	ConfigsFor(ctx context.Context, agencyIDs []string) (map[string]eligibility.AgencyConfig, error)
}

// Store bundles every repository a fully wired service needs.
type Store struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Ledger        TriggerLedger
	Deals         DealRepository
	Directory     Directory
	Configs       AgencyConfigSource
}
