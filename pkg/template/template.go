// Package template renders agency message templates by literal
// placeholder substitution.
//
// Placeholders are names wrapped in double braces, whitespace-tolerant:
// {{client_first_name}} and {{ client_first_name }} are equivalent.
// There is no recursion and no escaping; a placeholder with no value
// renders as the empty string. Unknown placeholders are a
// template-authoring problem, so they are logged rather than rejected.
package template

import (
	"regexp"
	"strings"

	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes every placeholder in tmpl with its value from
// values, or the empty string when absent.
func Render(tmpl string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := values[name]
		if !ok {
			logger.WarnCF("template", "Unknown placeholder", map[string]any{
				"placeholder": name,
			})
			return ""
		}
		return v
	})
}

// Placeholders returns the distinct placeholder names in tmpl, in order
// of first appearance.
func Placeholders(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// PlaceholderSet returns the documented placeholder names for a trigger
// type. Templates for that type may use any subset of these.
func PlaceholderSet(t messaging.TriggerType) []string {
	switch t {
	case messaging.TriggerWelcome:
		return []string{"client_first_name", "agency_name", "agent_name", "agent_phone", "client_email"}
	case messaging.TriggerBirthday:
		return []string{"client_first_name", "agent_name"}
	case messaging.TriggerBillingReminder:
		return []string{"client_first_name"}
	case messaging.TriggerQuarterlyCheckin:
		return []string{"client_first_name", "agent_name", "agent_phone"}
	case messaging.TriggerPolicyPacketCheckup:
		return []string{"client_first_name", "agent_name", "agent_phone"}
	default:
		return nil
	}
}

// Validate reports placeholders in tmpl that are outside the documented
// set for the trigger type. Authoring aid only; rendering still degrades
// gracefully.
func Validate(t messaging.TriggerType, tmpl string) []string {
	allowed := make(map[string]bool)
	for _, name := range PlaceholderSet(t) {
		allowed[name] = true
	}
	var unknown []string
	for _, name := range Placeholders(tmpl) {
		if !allowed[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// FirstName extracts the leading name token for the client_first_name
// placeholder.
func FirstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
