package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agencyos/textline/pkg/conversation"
	"github.com/agencyos/textline/pkg/dispatch"
	"github.com/agencyos/textline/pkg/eligibility"
	"github.com/agencyos/textline/pkg/events"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/template"
)

// ItemError records one candidate's failure without failing the run.
type ItemError struct {
	DealID string `json:"deal_id"`
	Reason string `json:"reason"`
}

// RunReport summarizes one trigger run. Per-item failures land in
// Errors; the run itself only errors when candidates cannot be listed
// at all.
type RunReport struct {
	Type      messaging.TriggerType `json:"type"`
	Day       string                `json:"day"`
	Evaluated int                   `json:"evaluated"`
	Matched   int                   `json:"matched"`
	AutoSent  int                   `json:"auto_sent"`
	Drafted   int                   `json:"drafted"`
	Skipped   int                   `json:"skipped"`
	Errors    []ItemError           `json:"errors,omitempty"`
}

type candidate struct {
	deal store.Deal
	meta messaging.Metadata
}

// Runner drives the shared trigger pipeline: candidate selection,
// idempotency claim, eligibility gate, template render, message append
// and (for auto mode) carrier dispatch.
type Runner struct {
	st       store.Store
	resolver *conversation.Resolver
	log      *conversation.Log
	sender   dispatch.Sender
	bus      events.Publisher
	now      func() time.Time
}

func NewRunner(st store.Store, resolver *conversation.Resolver, log *conversation.Log, sender dispatch.Sender, bus events.Publisher) *Runner {
	return &Runner{
		st:       st,
		resolver: resolver,
		log:      log,
		sender:   sender,
		bus:      bus,
		now:      time.Now,
	}
}

// Run evaluates one trigger for one calendar day across the active deal
// book. Re-running for the same day is a no-op per deal: the ledger
// claim on (dealID, type, day) is checked before any write.
func (r *Runner) Run(ctx context.Context, t Trigger, today time.Time) (*RunReport, error) {
	report := &RunReport{
		Type: t.Type(),
		Day:  today.Format("2006-01-02"),
	}

	deals, err := r.st.Deals.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing deals for %s run: %w", t.Type(), err)
	}
	report.Evaluated = len(deals)

	var candidates []candidate
	agencySet := make(map[string]bool)
	for _, deal := range deals {
		if deal.ClientPhone == "" {
			continue
		}
		meta, ok := t.Matches(deal, today)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{deal: deal, meta: meta})
		agencySet[deal.AgencyID] = true
	}
	report.Matched = len(candidates)

	agencyIDs := make([]string, 0, len(agencySet))
	for id := range agencySet {
		agencyIDs = append(agencyIDs, id)
	}
	configs, err := r.st.Configs.ConfigsFor(ctx, agencyIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching agency configs for %s run: %w", t.Type(), err)
	}

	for _, cand := range candidates {
		r.process(ctx, t.Type(), cand, configs, today, report)
	}

	logger.InfoCF("trigger", "Trigger run completed", map[string]any{
		"type":      string(t.Type()),
		"day":       report.Day,
		"evaluated": report.Evaluated,
		"matched":   report.Matched,
		"auto_sent": report.AutoSent,
		"drafted":   report.Drafted,
		"skipped":   report.Skipped,
		"errors":    len(report.Errors),
	})
	return report, nil
}

func (r *Runner) process(
	ctx context.Context,
	triggerType messaging.TriggerType,
	cand candidate,
	configs map[string]eligibility.AgencyConfig,
	today time.Time,
	report *RunReport,
) {
	deal := cand.deal

	claimed, err := r.st.Ledger.Claim(ctx, deal.ID, triggerType, today)
	if err != nil {
		report.Errors = append(report.Errors, ItemError{DealID: deal.ID, Reason: "ledger: " + err.Error()})
		return
	}
	if !claimed {
		report.Skipped++
		return
	}

	cfg, ok := configs[deal.AgencyID]
	if !ok {
		report.Skipped++
		logger.WarnCF("trigger", "No messaging config for agency", map[string]any{
			"agency_id": deal.AgencyID,
			"deal_id":   deal.ID,
		})
		return
	}

	agent, err := r.st.Directory.Agent(ctx, deal.AgentID)
	if err != nil {
		r.skipOrFail(report, deal.ID, "agent", err)
		return
	}

	conv, err := r.resolver.Lookup(ctx, deal.ID, deal.AgencyID, deal.ClientPhone)
	if err != nil {
		report.Errors = append(report.Errors, ItemError{DealID: deal.ID, Reason: "conversation: " + err.Error()})
		return
	}

	decision := eligibility.CanAutoSend(cfg, agent.Tier, agent.AutoSendOverride, conv, triggerType)
	if !decision.Eligible {
		report.Skipped++
		logger.DebugCF("trigger", "Candidate skipped", map[string]any{
			"deal_id": deal.ID,
			"type":    string(triggerType),
			"reason":  decision.Reason,
		})
		return
	}

	agency, err := r.st.Directory.Agency(ctx, deal.AgencyID)
	if err != nil {
		r.skipOrFail(report, deal.ID, "agency", err)
		return
	}

	body := template.Render(cfg.Trigger(triggerType).Template, Values(deal, agent, agency))
	if body == "" {
		report.Skipped++
		logger.WarnCF("trigger", "Template rendered empty, nothing to send", map[string]any{
			"agency_id": deal.AgencyID,
			"type":      string(triggerType),
		})
		return
	}

	meta := cand.meta
	meta.Automated = true
	meta.Type = triggerType
	meta.DealID = deal.ID
	meta.ClientPhone = messaging.NormalizePhone(deal.ClientPhone)
	meta.ClientName = deal.ClientName

	switch decision.Mode {
	case eligibility.ModeDraft:
		_, err := r.log.Append(ctx, conversation.AppendParams{
			ConversationID: conv.ID,
			SenderID:       agent.ID,
			ReceiverID:     meta.ClientPhone,
			Body:           body,
			Direction:      messaging.DirectionOutbound,
			Status:         messaging.StatusDraft,
			Metadata:       meta,
		})
		if err != nil {
			report.Errors = append(report.Errors, ItemError{DealID: deal.ID, Reason: "append: " + err.Error()})
			return
		}
		report.Drafted++

	case eligibility.ModeAuto:
		msg, err := r.log.Append(ctx, conversation.AppendParams{
			ConversationID: conv.ID,
			SenderID:       agent.ID,
			ReceiverID:     meta.ClientPhone,
			Body:           body,
			Direction:      messaging.DirectionOutbound,
			Status:         messaging.StatusSent,
			Metadata:       meta,
		})
		if err != nil {
			report.Errors = append(report.Errors, ItemError{DealID: deal.ID, Reason: "append: " + err.Error()})
			return
		}
		if _, err := r.sender.Send(ctx, agency.SendingNumber, meta.ClientPhone, body); err != nil {
			// Dispatch follows commit, so the row is marked failed.
			if mErr := r.st.Messages.MarkFailed(ctx, msg.ID); mErr != nil {
				logger.ErrorCF("trigger", "Failed to mark message failed", map[string]any{
					"message_id": msg.ID,
					"error":      mErr.Error(),
				})
			}
			report.Errors = append(report.Errors, ItemError{DealID: deal.ID, Reason: "dispatch: " + err.Error()})
			return
		}
		report.AutoSent++
		events.Emit(r.bus, events.KeyMessageSent, deal.AgencyID, msg)
	}
}

// skipOrFail treats a missing collaborator row as a logged skip and
// anything else as an item error.
func (r *Runner) skipOrFail(report *RunReport, dealID, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		report.Skipped++
		logger.WarnCF("trigger", "Missing "+what+" for candidate", map[string]any{
			"deal_id": dealID,
		})
		return
	}
	report.Errors = append(report.Errors, ItemError{DealID: dealID, Reason: what + ": " + err.Error()})
}

// Values builds the placeholder values for a deal's messages. Providing
// the full set is harmless: templates pull only what they reference.
func Values(deal store.Deal, agent *store.Agent, agency *store.Agency) map[string]string {
	return map[string]string{
		"client_first_name": template.FirstName(deal.ClientName),
		"client_email":      deal.ClientEmail,
		"agency_name":       agency.Name,
		"agent_name":        agent.Name,
		"agent_phone":       agent.Phone,
	}
}

// FireWelcome runs the welcome pipeline for a newly created
// conversation. Callers invoke it exactly when the resolver reports
// Created; the ledger claim still guards against duplicate fires.
func (r *Runner) FireWelcome(ctx context.Context, deal store.Deal, conv *messaging.Conversation) error {
	today := r.now()

	claimed, err := r.st.Ledger.Claim(ctx, deal.ID, messaging.TriggerWelcome, today)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	configs, err := r.st.Configs.ConfigsFor(ctx, []string{deal.AgencyID})
	if err != nil {
		return err
	}
	cfg, ok := configs[deal.AgencyID]
	if !ok {
		return nil
	}

	agent, err := r.st.Directory.Agent(ctx, deal.AgentID)
	if err != nil {
		return err
	}

	// First contact: the opt-in check is exempt by construction.
	decision := eligibility.CanAutoSend(cfg, agent.Tier, agent.AutoSendOverride, conv, messaging.TriggerWelcome)
	if !decision.Eligible {
		logger.DebugCF("trigger", "Welcome skipped", map[string]any{
			"deal_id": deal.ID,
			"reason":  decision.Reason,
		})
		return nil
	}

	agency, err := r.st.Directory.Agency(ctx, deal.AgencyID)
	if err != nil {
		return err
	}

	body := template.Render(cfg.Trigger(messaging.TriggerWelcome).Template, Values(deal, agent, agency))
	if body == "" {
		return nil
	}

	meta := messaging.Metadata{
		Automated:   true,
		Type:        messaging.TriggerWelcome,
		DealID:      deal.ID,
		ClientPhone: messaging.NormalizePhone(deal.ClientPhone),
		ClientName:  deal.ClientName,
	}

	status := messaging.StatusSent
	if decision.Mode == eligibility.ModeDraft {
		status = messaging.StatusDraft
	}
	msg, err := r.log.Append(ctx, conversation.AppendParams{
		ConversationID: conv.ID,
		SenderID:       agent.ID,
		ReceiverID:     meta.ClientPhone,
		Body:           body,
		Direction:      messaging.DirectionOutbound,
		Status:         status,
		Metadata:       meta,
	})
	if err != nil {
		return err
	}

	if decision.Mode == eligibility.ModeAuto {
		if _, err := r.sender.Send(ctx, agency.SendingNumber, meta.ClientPhone, body); err != nil {
			if mErr := r.st.Messages.MarkFailed(ctx, msg.ID); mErr != nil {
				logger.ErrorCF("trigger", "Failed to mark welcome failed", map[string]any{
					"message_id": msg.ID,
					"error":      mErr.Error(),
				})
			}
			return err
		}
		events.Emit(r.bus, events.KeyMessageSent, deal.AgencyID, msg)
	}
	return nil
}
