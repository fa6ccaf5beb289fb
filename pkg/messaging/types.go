// Package messaging defines the conversation and message domain model
// shared across the service: types, enums and the message state machine.
package messaging

import (
	"strings"
	"time"
)

// ConversationType identifies the channel a conversation runs on.
// SMS is the only channel today.
type ConversationType string

const ConversationTypeSMS ConversationType = "sms"

// OptInStatus is the client-level consent state for automated sends.
type OptInStatus string

const (
	OptInUnknown OptInStatus = "unknown"
	OptedIn      OptInStatus = "opted_in"
	OptedOut     OptInStatus = "opted_out"
)

// Direction distinguishes client-bound from client-sent messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is a message's lifecycle state.
//
// draft -> sent via approval (or deletion on rejection); received is
// terminal and inbound-only; failed records a carrier rejection after
// the message row was committed.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusReceived Status = "received"
	StatusFailed   Status = "failed"
)

// TriggerType is one of the automated-message types.
type TriggerType string

const (
	TriggerWelcome             TriggerType = "welcome"
	TriggerBirthday            TriggerType = "birthday"
	TriggerBillingReminder     TriggerType = "billing_reminder"
	TriggerQuarterlyCheckin    TriggerType = "quarterly_checkin"
	TriggerPolicyPacketCheckup TriggerType = "policy_packet_checkup"
)

// TriggerTypes lists every automated-message type in evaluation order.
var TriggerTypes = []TriggerType{
	TriggerWelcome,
	TriggerBirthday,
	TriggerBillingReminder,
	TriggerQuarterlyCheckin,
	TriggerPolicyPacketCheckup,
}

// Conversation is a single client thread. At most one active conversation
// exists per (agencyID, clientPhone, type); deals index into that thread
// rather than owning their own.
type Conversation struct {
	ID            string           `json:"id"`
	AgencyID      string           `json:"agency_id"`
	AgentID       string           `json:"agent_id"`
	DealID        string           `json:"deal_id,omitempty"`
	ClientPhone   string           `json:"client_phone"`
	Type          ConversationType `json:"type"`
	IsActive      bool             `json:"is_active"`
	LastMessageAt time.Time        `json:"last_message_at"`
	OptInStatus   OptInStatus      `json:"sms_opt_in_status"`
	OptedInAt     *time.Time       `json:"opted_in_at,omitempty"`
	OptedOutAt    *time.Time       `json:"opted_out_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Metadata carries the automated-send context attached to a message.
type Metadata struct {
	Automated          bool        `json:"automated"`
	Type               TriggerType `json:"type,omitempty"`
	DealID             string      `json:"deal_id,omitempty"`
	ClientPhone        string      `json:"client_phone,omitempty"`
	ClientName         string      `json:"client_name,omitempty"`
	DaysSinceEffective int         `json:"days_since_effective,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id"`
	Body           string     `json:"body"`
	Direction      Direction  `json:"direction"`
	Status         Status     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	Metadata       Metadata   `json:"metadata"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsDraft reports whether the message is awaiting approval.
func (m *Message) IsDraft() bool { return m.Status == StatusDraft }

// NormalizePhone reduces a phone number to the storage format: digits
// only, with a leading country code 1 stripped from 11-digit numbers.
// The result carries no "+" prefix.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
