// Package webhook normalizes inbound carrier events into logged
// messages. Delivery is always acknowledged to the carrier; an inbound
// text that matches no deal is logged and dropped, never an error
// upstream.
package webhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agencyos/textline/pkg/conversation"
	"github.com/agencyos/textline/pkg/dispatch"
	"github.com/agencyos/textline/pkg/events"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/notify"
	"github.com/agencyos/textline/pkg/store"
)

// Event is an inbound message event from the SMS carrier.
type Event struct {
	From string `json:"from"` // E.164
	To   string `json:"to"`   // E.164, the agency's sending number
	Text string `json:"text"`
	ID   string `json:"id"` // carrier event id
}

// urgentKeywords escalate an inbound message to the writing agent.
var urgentKeywords = []string{
	"urgent", "emergency", "asap", "accident", "claim",
	"immediately", "hospital", "police", "lawsuit",
}

// Carrier-standard consent keywords. Matched against the whole trimmed
// body, not substrings, so "please stop by" does not opt a client out.
var (
	optOutKeywords = []string{"stop", "stopall", "unsubscribe", "cancel", "end", "quit"}
	optInKeywords  = []string{"start", "unstop", "yes"}
)

// WelcomeFirer runs the welcome pipeline for a newly created
// conversation.
type WelcomeFirer interface {
	FireWelcome(ctx context.Context, deal store.Deal, conv *messaging.Conversation) error
}

// Handler routes inbound carrier events into the message log.
type Handler struct {
	st       store.Store
	resolver *conversation.Resolver
	log      *conversation.Log
	sender   dispatch.Sender
	notifier notify.Notifier
	welcome  WelcomeFirer
	bus      events.Publisher
	now      func() time.Time
}

func NewHandler(
	st store.Store,
	resolver *conversation.Resolver,
	log *conversation.Log,
	sender dispatch.Sender,
	notifier notify.Notifier,
	welcome WelcomeFirer,
	bus events.Publisher,
) *Handler {
	return &Handler{
		st:       st,
		resolver: resolver,
		log:      log,
		sender:   sender,
		notifier: notifier,
		welcome:  welcome,
		bus:      bus,
		now:      time.Now,
	}
}

// Handle processes one inbound event. A nil return means the event was
// fully routed or intentionally dropped; a non-nil return signals an
// infrastructure failure the carrier may retry (retries are safe: the
// conversation uniqueness constraint absorbs duplicates).
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	clientPhone := messaging.NormalizePhone(ev.From)
	sendingNumber := messaging.NormalizePhone(ev.To)

	agency, err := h.st.Directory.AgencyBySendingNumber(ctx, sendingNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.WarnCF("webhook", "Inbound for unknown sending number, dropped", map[string]any{
				"event_id": ev.ID,
				"to":       sendingNumber,
			})
			return nil
		}
		return err
	}

	deal, err := h.st.Deals.FindByClientPhone(ctx, agency.ID, clientPhone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.InfoCF("webhook", "Inbound matches no deal, dropped", map[string]any{
				"event_id":  ev.ID,
				"agency_id": agency.ID,
				"from":      clientPhone,
			})
			return nil
		}
		return err
	}

	resolved, err := h.resolver.Resolve(ctx, deal.ID, agency.ID, deal.AgentID, clientPhone)
	if err != nil {
		return err
	}
	conv := resolved.Conversation

	h.applyConsentKeywords(ctx, conv, ev.Text)

	msg, err := h.log.Append(ctx, conversation.AppendParams{
		ConversationID: conv.ID,
		SenderID:       clientPhone,
		ReceiverID:     deal.AgentID,
		Body:           ev.Text,
		Direction:      messaging.DirectionInbound,
		Status:         messaging.StatusReceived,
		Metadata: messaging.Metadata{
			DealID:      deal.ID,
			ClientPhone: clientPhone,
			ClientName:  deal.ClientName,
		},
	})
	if err != nil {
		return err
	}
	events.Emit(h.bus, events.KeyMessageReceived, agency.ID, msg)

	if h.isUrgent(ev.Text) {
		h.escalate(ctx, agency, *deal, conv, ev.Text)
	}

	if resolved.Created {
		events.Emit(h.bus, events.KeyConversationCreated, agency.ID, conv)
		if h.welcome != nil {
			if err := h.welcome.FireWelcome(ctx, *deal, conv); err != nil {
				logger.ErrorCF("webhook", "Welcome trigger failed", map[string]any{
					"deal_id": deal.ID,
					"error":   err.Error(),
				})
			}
		}
	}
	return nil
}

func (h *Handler) applyConsentKeywords(ctx context.Context, conv *messaging.Conversation, text string) {
	body := strings.ToLower(strings.TrimSpace(text))

	var status messaging.OptInStatus
	switch {
	case contains(optOutKeywords, body):
		status = messaging.OptedOut
	case contains(optInKeywords, body):
		status = messaging.OptedIn
	default:
		return
	}

	if err := h.st.Conversations.SetOptIn(ctx, conv.ID, status, h.now()); err != nil {
		logger.ErrorCF("webhook", "Failed to update opt-in status", map[string]any{
			"conversation_id": conv.ID,
			"status":          string(status),
			"error":           err.Error(),
		})
		return
	}
	conv.OptInStatus = status
	logger.InfoCF("webhook", "Opt-in status changed by keyword", map[string]any{
		"conversation_id": conv.ID,
		"status":          string(status),
	})
}

func (h *Handler) isUrgent(text string) bool {
	body := strings.ToLower(text)
	for _, kw := range urgentKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

// escalate forwards a summarized alert to the writing agent: a text via
// the dispatcher from the agency's sending number, plus the webhook
// alert channel. Both are fire-and-forget.
func (h *Handler) escalate(ctx context.Context, agency *store.Agency, deal store.Deal, conv *messaging.Conversation, text string) {
	summary := text
	if len(summary) > 160 {
		summary = summary[:160]
	}

	agent, err := h.st.Directory.Agent(ctx, deal.AgentID)
	if err != nil {
		logger.WarnCF("webhook", "No agent to escalate to", map[string]any{
			"deal_id": deal.ID,
		})
	} else if agent.Phone != "" {
		alert := "Urgent message from " + deal.ClientName + " (" + conv.ClientPhone + "): " + summary
		if _, err := h.sender.Send(ctx, agency.SendingNumber, messaging.NormalizePhone(agent.Phone), alert); err != nil {
			logger.ErrorCF("webhook", "Escalation text failed", map[string]any{
				"agent_id": agent.ID,
				"error":    err.Error(),
			})
		}
	}

	notify.Raise(h.notifier, notify.Alert{
		AgencyID:       agency.ID,
		AgentID:        deal.AgentID,
		ConversationID: conv.ID,
		ClientPhone:    conv.ClientPhone,
		Summary:        summary,
		ReceivedAt:     h.now(),
	})
	events.Emit(h.bus, events.KeyEscalationRaised, agency.ID, map[string]string{
		"conversation_id": conv.ID,
		"agent_id":        deal.AgentID,
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
