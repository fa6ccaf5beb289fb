// Package eligibility decides whether an automated message may be sent
// for a given agency, agent and conversation, and in which mode.
package eligibility

import (
	"github.com/agencyos/textline/pkg/messaging"
)

// Tier is the agent's subscription tier. Automated messaging is
// restricted to paid tiers above basic.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// TriggerConfig is the per-trigger-type slice of an agency's messaging
// configuration.
type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Template string `json:"template"`
	// RequireApproval, when set, overrides the auto-send decision for
	// this trigger type only.
	RequireApproval *bool `json:"require_approval,omitempty"`
}

// AgencyConfig is an agency's messaging configuration, consumed
// read-only. Fetched in bulk per trigger run, never looked up ad hoc
// inside the gate.
type AgencyConfig struct {
	AgencyID         string                                  `json:"agency_id"`
	MessagingEnabled bool                                    `json:"messaging_enabled"`
	AutoSendEnabled  bool                                    `json:"auto_send_enabled"`
	Triggers         map[messaging.TriggerType]TriggerConfig `json:"triggers"`
}

// Trigger returns the per-type config, zero value if unset.
func (c AgencyConfig) Trigger(t messaging.TriggerType) TriggerConfig {
	return c.Triggers[t]
}

// Mode is the gate's verdict for an eligible candidate.
type Mode string

const (
	// ModeAuto sends without human review.
	ModeAuto Mode = "auto"
	// ModeDraft queues the message for approval.
	ModeDraft Mode = "draft"
	// ModeSkip creates no message row of any kind.
	ModeSkip Mode = "skip"
)

// Decision is the gate output.
type Decision struct {
	Eligible bool
	Mode     Mode
	// Reason explains a skip for run reports; empty otherwise.
	Reason string
}

func skip(reason string) Decision {
	return Decision{Eligible: false, Mode: ModeSkip, Reason: reason}
}

// CanAutoSend is the eligibility gate. It is a pure function of its
// inputs; callers batch-fetch configs up front and pass them in.
//
// Decision order: agency kill switch, agent tier, per-trigger enablement,
// client opt-in, then the auto-send resolution (agent override beats the
// agency default, per-type require_approval beats both).
//
// conv may be nil for the welcome trigger only: a first-contact welcome
// by construction has no prior opt-in state to check.
func CanAutoSend(
	cfg AgencyConfig,
	tier Tier,
	agentOverride *bool,
	conv *messaging.Conversation,
	triggerType messaging.TriggerType,
) Decision {
	if !cfg.MessagingEnabled {
		return skip("messaging_disabled")
	}

	if tier == TierFree || tier == TierBasic {
		return skip("tier_restricted")
	}

	tc := cfg.Trigger(triggerType)
	if !tc.Enabled {
		return skip("trigger_disabled")
	}

	if triggerType != messaging.TriggerWelcome {
		if conv == nil {
			return skip("no_conversation")
		}
		if conv.OptInStatus != messaging.OptedIn {
			return skip("not_opted_in")
		}
	}

	autoSend := cfg.AutoSendEnabled
	if agentOverride != nil {
		autoSend = *agentOverride
	}
	if tc.RequireApproval != nil {
		autoSend = !*tc.RequireApproval
	}

	if autoSend {
		return Decision{Eligible: true, Mode: ModeAuto}
	}
	return Decision{Eligible: true, Mode: ModeDraft}
}
