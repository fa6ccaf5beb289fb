package messaging

import (
	"testing"
	"time"
)

func validMessage() *Message {
	return &Message{
		ID:             "m1",
		ConversationID: "c1",
		Body:           "hello",
		Direction:      DirectionOutbound,
		Status:         StatusSent,
	}
}

func TestValidateNew(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*Message)
		ok     bool
	}{
		{"outbound sent", func(m *Message) {}, true},
		{"outbound failed", func(m *Message) { m.Status = StatusFailed }, true},
		{"automated draft", func(m *Message) {
			m.Status = StatusDraft
			m.Metadata.Automated = true
		}, true},
		{"manual draft rejected", func(m *Message) {
			m.Status = StatusDraft
		}, false},
		{"draft with sentAt rejected", func(m *Message) {
			m.Status = StatusDraft
			m.Metadata.Automated = true
			m.SentAt = &now
		}, false},
		{"outbound received rejected", func(m *Message) {
			m.Status = StatusReceived
		}, false},
		{"inbound received", func(m *Message) {
			m.Direction = DirectionInbound
			m.Status = StatusReceived
		}, true},
		{"inbound sent rejected", func(m *Message) {
			m.Direction = DirectionInbound
			m.Status = StatusSent
		}, false},
		{"inbound draft rejected", func(m *Message) {
			m.Direction = DirectionInbound
			m.Status = StatusDraft
			m.Metadata.Automated = true
		}, false},
		{"empty body rejected", func(m *Message) { m.Body = "" }, false},
		{"no conversation rejected", func(m *Message) { m.ConversationID = "" }, false},
		{"unknown direction rejected", func(m *Message) { m.Direction = "sideways" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := validMessage()
			tc.mutate(msg)
			err := ValidateNew(msg)
			if tc.ok && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected a state error")
			}
		})
	}
}

func TestStateErrorMessage(t *testing.T) {
	err := ValidateNew(&Message{ID: "m9", Direction: DirectionInbound, Status: StatusSent})
	se, ok := err.(*StateError)
	if !ok {
		t.Fatalf("expected *StateError, got %T", err)
	}
	if se.MessageID != "m9" {
		t.Errorf("expected message id in error, got %q", se.MessageID)
	}
}
