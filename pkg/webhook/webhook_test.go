package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agencyos/textline/pkg/conversation"
	"github.com/agencyos/textline/pkg/dispatch"
	"github.com/agencyos/textline/pkg/events"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/notify"
	"github.com/agencyos/textline/pkg/store"
	"github.com/agencyos/textline/pkg/store/memory"
)

type sendCall struct {
	from, to, text string
}

type fakeSender struct {
	calls []sendCall
}

func (f *fakeSender) Send(ctx context.Context, from, to, text string) (*dispatch.Receipt, error) {
	f.calls = append(f.calls, sendCall{from, to, text})
	return &dispatch.Receipt{}, nil
}

type chanNotifier struct {
	alerts chan notify.Alert
}

func (n *chanNotifier) Notify(ctx context.Context, a notify.Alert) error {
	n.alerts <- a
	return nil
}

type recordingWelcome struct {
	fired []string
}

func (w *recordingWelcome) FireWelcome(ctx context.Context, deal store.Deal, conv *messaging.Conversation) error {
	w.fired = append(w.fired, deal.ID)
	return nil
}

type fixture struct {
	st       store.Store
	sender   *fakeSender
	notifier *chanNotifier
	welcome  *recordingWelcome
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	st := mem.Bundle()

	mem.SeedAgency(store.Agency{ID: "ag1", Name: "Acme Insurance", SendingNumber: "5550000001"})
	mem.SeedAgent(store.Agent{ID: "agent1", AgencyID: "ag1", Name: "Sam Doyle", Phone: "5559990000"})
	mem.SeedDeal(store.Deal{
		ID: "deal1", AgencyID: "ag1", AgentID: "agent1",
		ClientName: "Maria Gonzalez", ClientPhone: "5551234567", PolicyActive: true,
	})

	sender := &fakeSender{}
	notifier := &chanNotifier{alerts: make(chan notify.Alert, 1)}
	welcome := &recordingWelcome{}

	resolver := conversation.NewResolver(st.Conversations)
	log := conversation.NewLog(st.Messages, st.Conversations)
	handler := NewHandler(st, resolver, log, sender, notifier, welcome, events.NopPublisher{})

	return &fixture{st: st, sender: sender, notifier: notifier, welcome: welcome, handler: handler}
}

func inbound(text string) Event {
	return Event{From: "+15551234567", To: "+15550000001", Text: text, ID: "ev1"}
}

func TestHandleCreatesConversationAndLogsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, inbound("Hi, question about my policy")))

	conv, err := f.st.Conversations.ActiveByPhone(ctx, "ag1", "5551234567")
	require.NoError(t, err)
	require.Equal(t, "deal1", conv.DealID)

	msgs, total, err := f.st.Messages.List(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, messaging.DirectionInbound, msgs[0].Direction)
	require.Equal(t, messaging.StatusReceived, msgs[0].Status)
	require.NotNil(t, msgs[0].SentAt)

	require.Equal(t, []string{"deal1"}, f.welcome.fired, "first contact fires the welcome pipeline")
}

func TestHandleReusesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, inbound("first")))
	require.NoError(t, f.handler.Handle(ctx, inbound("second")))

	conv, err := f.st.Conversations.ActiveByPhone(ctx, "ag1", "5551234567")
	require.NoError(t, err)
	_, total, err := f.st.Messages.List(ctx, store.MessageFilter{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	require.Len(t, f.welcome.fired, 1, "welcome fires only on creation")
}

func TestHandleUnknownSendingNumber(t *testing.T) {
	f := newFixture(t)
	ev := Event{From: "+15551234567", To: "+19990000000", Text: "hello", ID: "ev2"}

	// Acknowledged and dropped, not an error to the carrier.
	require.NoError(t, f.handler.Handle(context.Background(), ev))

	_, total, err := f.st.Messages.List(context.Background(), store.MessageFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestHandleUnmatchedClientPhone(t *testing.T) {
	f := newFixture(t)
	ev := Event{From: "+15557776666", To: "+15550000001", Text: "wrong number", ID: "ev3"}

	require.NoError(t, f.handler.Handle(context.Background(), ev))

	// No conversation is created for a phone with no deal.
	_, err := f.st.Conversations.ActiveByPhone(context.Background(), "ag1", "5557776666")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsentKeywords(t *testing.T) {
	cases := []struct {
		text string
		want messaging.OptInStatus
	}{
		{"STOP", messaging.OptedOut},
		{"stop", messaging.OptedOut},
		{"  Unsubscribe  ", messaging.OptedOut},
		{"START", messaging.OptedIn},
		{"yes", messaging.OptedIn},
		// Whole-body match only; mentioning a keyword mid-sentence is not
		// a consent change.
		{"please stop by the office", messaging.OptInUnknown},
		{"hello", messaging.OptInUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			require.NoError(t, f.handler.Handle(ctx, inbound(tc.text)))

			conv, err := f.st.Conversations.ActiveByPhone(ctx, "ag1", "5551234567")
			require.NoError(t, err)
			require.Equal(t, tc.want, conv.OptInStatus)
		})
	}
}

func TestOptOutThenOptIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, inbound("STOP")))
	require.NoError(t, f.handler.Handle(ctx, inbound("START")))

	conv, err := f.st.Conversations.ActiveByPhone(ctx, "ag1", "5551234567")
	require.NoError(t, err)
	require.Equal(t, messaging.OptedIn, conv.OptInStatus)
	require.NotNil(t, conv.OptedInAt)
	require.NotNil(t, conv.OptedOutAt)
}

func TestUrgentEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, inbound("I was in an accident, this is URGENT")))

	// The agent gets a text from the agency's sending number.
	require.Len(t, f.sender.calls, 1)
	call := f.sender.calls[0]
	require.Equal(t, "5550000001", call.from)
	require.Equal(t, "5559990000", call.to)
	require.Contains(t, call.text, "Maria Gonzalez")

	// And an alert over the webhook channel.
	select {
	case alert := <-f.notifier.alerts:
		require.Equal(t, "agent1", alert.AgentID)
		require.Equal(t, "5551234567", alert.ClientPhone)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an escalation alert")
	}
}

func TestNonUrgentDoesNotEscalate(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.handler.Handle(context.Background(), inbound("thanks for the reminder")))
	require.Empty(t, f.sender.calls)
}
