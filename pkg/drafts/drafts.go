// Package drafts implements the draft approval queue: bulk approve,
// bulk reject and in-place body edits for automated messages awaiting
// human review.
package drafts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agencyos/textline/pkg/dispatch"
	"github.com/agencyos/textline/pkg/events"
	"github.com/agencyos/textline/pkg/logger"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

// ErrEmptyBody rejects whitespace-only draft edits.
var ErrEmptyBody = errors.New("drafts: body must not be empty")

// ItemError reports one id's failure within a bulk operation.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ApproveResult is the per-item outcome of a bulk approve.
type ApproveResult struct {
	Approved []string    `json:"approved"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// Queue operates on draft messages. Bulk operations are best-effort per
// item; each status flip is atomic in the store, so two approvers cannot
// both win the same draft.
type Queue struct {
	st     store.Store
	sender dispatch.Sender
	bus    events.Publisher
	now    func() time.Time
}

func NewQueue(st store.Store, sender dispatch.Sender, bus events.Publisher) *Queue {
	return &Queue{
		st:     st,
		sender: sender,
		bus:    bus,
		now:    time.Now,
	}
}

// Approve flips each draft to sent and hands it to the dispatcher. Ids
// that are missing or already transitioned land in Errors without
// affecting the rest of the batch.
func (q *Queue) Approve(ctx context.Context, messageIDs []string) *ApproveResult {
	result := &ApproveResult{}

	for _, id := range messageIDs {
		msg, err := q.st.Messages.ApproveDraft(ctx, id, q.now())
		switch {
		case errors.Is(err, store.ErrNotFound):
			result.Errors = append(result.Errors, ItemError{ID: id, Reason: "not found"})
			continue
		case errors.Is(err, store.ErrNotDraft):
			result.Errors = append(result.Errors, ItemError{ID: id, Reason: "already transitioned"})
			continue
		case err != nil:
			result.Errors = append(result.Errors, ItemError{ID: id, Reason: err.Error()})
			continue
		}

		if err := q.dispatch(ctx, msg); err != nil {
			// The flip is committed, so the row is marked failed rather
			// than reverted to draft.
			if mErr := q.st.Messages.MarkFailed(ctx, id); mErr != nil {
				logger.ErrorCF("drafts", "Failed to mark message failed", map[string]any{
					"message_id": id,
					"error":      mErr.Error(),
				})
			}
			result.Errors = append(result.Errors, ItemError{ID: id, Reason: "dispatch: " + err.Error()})
			continue
		}

		result.Approved = append(result.Approved, id)
	}

	logger.InfoCF("drafts", "Bulk approve completed", map[string]any{
		"requested": len(messageIDs),
		"approved":  len(result.Approved),
		"errors":    len(result.Errors),
	})
	return result
}

func (q *Queue) dispatch(ctx context.Context, msg *messaging.Message) error {
	conv, err := q.st.Conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	agency, err := q.st.Directory.Agency(ctx, conv.AgencyID)
	if err != nil {
		return err
	}

	to := msg.Metadata.ClientPhone
	if to == "" {
		to = conv.ClientPhone
	}
	if _, err := q.sender.Send(ctx, agency.SendingNumber, to, msg.Body); err != nil {
		return err
	}
	events.Emit(q.bus, events.KeyMessageSent, conv.AgencyID, msg)
	return nil
}

// Reject hard-deletes drafts. Non-draft and unknown ids are silently
// skipped: an already-acted-upon message is not an error. Returns the
// number of rows deleted.
func (q *Queue) Reject(ctx context.Context, messageIDs []string) (int, error) {
	rejected := 0
	for _, id := range messageIDs {
		deleted, err := q.st.Messages.DeleteDraft(ctx, id)
		if err != nil {
			return rejected, err
		}
		if deleted {
			rejected++
		}
	}
	logger.InfoCF("drafts", "Bulk reject completed", map[string]any{
		"requested": len(messageIDs),
		"rejected":  rejected,
	})
	return rejected, nil
}

// EditBody updates a draft's body in place. Only legal while the message
// is still a draft.
func (q *Queue) EditBody(ctx context.Context, messageID, body string) (*messaging.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	return q.st.Messages.UpdateDraftBody(ctx, messageID, body)
}
