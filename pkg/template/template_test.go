package template

import (
	"testing"

	"github.com/agencyos/textline/pkg/messaging"
)

func TestRender(t *testing.T) {
	values := map[string]string{
		"client_first_name": "Maria",
		"agent_name":        "Sam Doyle",
	}

	cases := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain substitution", "Hi {{client_first_name}}!", "Hi Maria!"},
		{"whitespace tolerant", "Hi {{ client_first_name }}!", "Hi Maria!"},
		{"multiple placeholders", "{{client_first_name}}, call {{agent_name}}", "Maria, call Sam Doyle"},
		{"repeated placeholder", "{{agent_name}} / {{agent_name}}", "Sam Doyle / Sam Doyle"},
		{"missing renders empty", "Hi {{nickname}}!", "Hi !"},
		{"no placeholders", "Just a sentence.", "Just a sentence."},
		{"unclosed braces untouched", "Hi {{client_first_name", "Hi {{client_first_name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.tmpl, values); got != tc.want {
				t.Errorf("Render(%q) = %q, want %q", tc.tmpl, got, tc.want)
			}
		})
	}
}

func TestRenderNoRecursion(t *testing.T) {
	// A value that looks like a placeholder must not be re-expanded.
	out := Render("Hi {{client_first_name}}", map[string]string{
		"client_first_name": "{{agent_name}}",
		"agent_name":        "Sam",
	})
	if out != "Hi {{agent_name}}" {
		t.Errorf("substitution recursed: %q", out)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a}} {{b}} {{ a }} text {{c}}")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestValidate(t *testing.T) {
	unknown := Validate(messaging.TriggerBillingReminder, "Hi {{client_first_name}}, {{premium_amount}} due")
	if len(unknown) != 1 || unknown[0] != "premium_amount" {
		t.Errorf("expected [premium_amount], got %v", unknown)
	}

	if u := Validate(messaging.TriggerWelcome, "Hi {{client_first_name}}, this is {{agent_name}}"); u != nil {
		t.Errorf("expected no unknown placeholders, got %v", u)
	}
}

func TestFirstName(t *testing.T) {
	cases := map[string]string{
		"Maria Gonzalez":    "Maria",
		"Cher":              "Cher",
		"  Jo  Ann  Smith ": "Jo",
		"":                  "",
		"   ":               "",
	}
	for in, want := range cases {
		if got := FirstName(in); got != want {
			t.Errorf("FirstName(%q) = %q, want %q", in, got, want)
		}
	}
}
