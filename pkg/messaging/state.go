package messaging

import "fmt"

// StateError reports an illegal message state or transition.
type StateError struct {
	MessageID string
	Reason    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("message %s: %s", e.MessageID, e.Reason)
}

// ValidateNew checks the invariants a message must satisfy before it is
// appended to the log.
func ValidateNew(msg *Message) error {
	switch msg.Direction {
	case DirectionInbound:
		if msg.Status != StatusReceived {
			return &StateError{MessageID: msg.ID, Reason: "inbound messages must be received"}
		}
	case DirectionOutbound:
		switch msg.Status {
		case StatusDraft:
			if !msg.Metadata.Automated {
				return &StateError{MessageID: msg.ID, Reason: "draft is only valid for automated outbound messages"}
			}
			if msg.SentAt != nil {
				return &StateError{MessageID: msg.ID, Reason: "draft must not carry sentAt"}
			}
		case StatusSent, StatusFailed:
		default:
			return &StateError{MessageID: msg.ID, Reason: fmt.Sprintf("illegal initial status %q", msg.Status)}
		}
	default:
		return &StateError{MessageID: msg.ID, Reason: fmt.Sprintf("unknown direction %q", msg.Direction)}
	}
	if msg.Body == "" {
		return &StateError{MessageID: msg.ID, Reason: "empty body"}
	}
	if msg.ConversationID == "" {
		return &StateError{MessageID: msg.ID, Reason: "message must belong to a conversation"}
	}
	return nil
}
