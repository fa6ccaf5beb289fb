// Package trigger implements the automated-message pipeline: per-type
// candidate selection over the deal book, the eligibility gate, template
// rendering and message creation, driven by a cron scheduler.
package trigger

import (
	"time"

	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

// Trigger is one automated-message type. All five types share this
// shape and are driven by the same runner; none carries its own
// pipeline.
type Trigger interface {
	Type() messaging.TriggerType
	// CronSpec is the schedule this trigger runs on. Empty means the
	// trigger is event-driven (welcome) and never scheduled.
	CronSpec() string
	// Matches reports whether the deal is due for this message today,
	// with the trigger-specific metadata to stamp on the message.
	Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool)
}

// Daily is the default schedule: 09:00 local, every day.
const Daily = "0 9 * * *"

// Registry returns all scheduled triggers in evaluation order.
func Registry() []Trigger {
	return []Trigger{
		Birthday{},
		BillingReminder{},
		QuarterlyCheckin{},
		PolicyPacketCheckup{},
	}
}

// midnight truncates t to its calendar day.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(midnight(b).Sub(midnight(a)).Hours() / 24)
}

// daysSinceEffective is the age of the policy in whole days.
func daysSinceEffective(deal store.Deal, today time.Time) int {
	return daysBetween(deal.PolicyEffectiveDate, today)
}

// cycleDays is the billing cycle length in days, matching the billing
// engine's day-based arithmetic (a quarter is 90 days, not three
// calendar months).
func cycleDays(c store.BillingCycle) int {
	switch c {
	case store.BillingMonthly:
		return 30
	case store.BillingQuarterly:
		return 90
	case store.BillingSemiAnnually:
		return 180
	case store.BillingAnnually:
		return 365
	default:
		return 0
	}
}

// NextBillingDate advances from the policy effective date one cycle at a
// time until strictly after today.
func NextBillingDate(deal store.Deal, today time.Time) (time.Time, bool) {
	step := cycleDays(deal.BillingCycle)
	if step == 0 || deal.PolicyEffectiveDate.IsZero() {
		return time.Time{}, false
	}
	next := midnight(deal.PolicyEffectiveDate)
	day := midnight(today)
	for !next.After(day) {
		next = next.AddDate(0, 0, step)
	}
	return next, true
}

// Birthday fires on the client's birthday, ignoring year.
type Birthday struct{}

func (Birthday) Type() messaging.TriggerType { return messaging.TriggerBirthday }
func (Birthday) CronSpec() string            { return Daily }

func (Birthday) Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool) {
	if deal.DateOfBirth.IsZero() {
		return messaging.Metadata{}, false
	}
	if deal.DateOfBirth.Month() != today.Month() || deal.DateOfBirth.Day() != today.Day() {
		return messaging.Metadata{}, false
	}
	return messaging.Metadata{}, true
}

// BillingReminder fires exactly 3 calendar days before the computed next
// billing date. The window is exact equality: a run skipped on that day
// misses the reminder for the cycle. Kept as-is to match the billing
// engine; widening it would double-send without a ledger change.
type BillingReminder struct{}

const billingLeadDays = 3

func (BillingReminder) Type() messaging.TriggerType { return messaging.TriggerBillingReminder }
func (BillingReminder) CronSpec() string            { return Daily }

func (BillingReminder) Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool) {
	next, ok := NextBillingDate(deal, today)
	if !ok {
		return messaging.Metadata{}, false
	}
	if daysBetween(today, next) != billingLeadDays {
		return messaging.Metadata{}, false
	}
	return messaging.Metadata{}, true
}

// QuarterlyCheckin fires every 90 days after the policy effective date.
type QuarterlyCheckin struct{}

func (QuarterlyCheckin) Type() messaging.TriggerType { return messaging.TriggerQuarterlyCheckin }
func (QuarterlyCheckin) CronSpec() string            { return Daily }

func (QuarterlyCheckin) Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool) {
	days := daysSinceEffective(deal, today)
	if days <= 0 || days%90 != 0 {
		return messaging.Metadata{}, false
	}
	return messaging.Metadata{DaysSinceEffective: days}, true
}

// PolicyPacketCheckup fires 14 days after the policy effective date to
// confirm the policy packet arrived.
type PolicyPacketCheckup struct{}

func (PolicyPacketCheckup) Type() messaging.TriggerType {
	return messaging.TriggerPolicyPacketCheckup
}
func (PolicyPacketCheckup) CronSpec() string { return Daily }

func (PolicyPacketCheckup) Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool) {
	days := daysSinceEffective(deal, today)
	if days != 14 {
		return messaging.Metadata{}, false
	}
	return messaging.Metadata{DaysSinceEffective: days}, true
}

// Welcome fires once, on first conversation creation for a deal. It is
// event-driven, never scheduled.
type Welcome struct{}

func (Welcome) Type() messaging.TriggerType { return messaging.TriggerWelcome }
func (Welcome) CronSpec() string            { return "" }

func (Welcome) Matches(deal store.Deal, today time.Time) (messaging.Metadata, bool) {
	return messaging.Metadata{}, false
}
