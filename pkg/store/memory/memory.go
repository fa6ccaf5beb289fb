// Package memory provides an in-memory store implementation for tests
// and local development. The unique-constraint and compare-and-insert
// semantics match the postgres implementation.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agencyos/textline/pkg/eligibility"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

type db struct {
	mu sync.Mutex

	conversations map[string]*messaging.Conversation
	messages      map[string]*messaging.Message
	msgOrder      []string
	ledger        map[string]bool

	deals    []store.Deal
	agents   map[string]*store.Agent
	agencies map[string]*store.Agency
	configs  map[string]eligibility.AgencyConfig
}

// Store owns the in-memory tables. Seed the collaborator read models
// (deals, agents, agencies, configs) directly; the conversation, message
// and ledger tables start empty.
type Store struct {
	db *db
}

func New() *Store {
	return &Store{db: &db{
		conversations: make(map[string]*messaging.Conversation),
		messages:      make(map[string]*messaging.Message),
		ledger:        make(map[string]bool),
		agents:        make(map[string]*store.Agent),
		agencies:      make(map[string]*store.Agency),
		configs:       make(map[string]eligibility.AgencyConfig),
	}}
}

// Bundle returns the store.Store wiring for this instance.
func (s *Store) Bundle() store.Store {
	return store.Store{
		Conversations: &conversationRepo{s.db},
		Messages:      &messageRepo{s.db},
		Ledger:        &ledger{s.db},
		Deals:         &dealRepo{s.db},
		Directory:     &directory{s.db},
		Configs:       &configSource{s.db},
	}
}

// --- seeding ------------------------------------------------------------

func (s *Store) SeedDeal(d store.Deal) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.deals = append(s.db.deals, d)
}

func (s *Store) SeedAgent(a store.Agent) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := a
	s.db.agents[a.ID] = &cp
}

func (s *Store) SeedAgency(a store.Agency) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := a
	s.db.agencies[a.ID] = &cp
}

func (s *Store) SeedConfig(cfg eligibility.AgencyConfig) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.configs[cfg.AgencyID] = cfg
}

// Deactivate closes an active conversation. Tenant-action path; a new
// active conversation may then be created for the same phone.
func (s *Store) Deactivate(id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	conv, ok := s.db.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.IsActive = false
	return nil
}

// --- ConversationRepository ---------------------------------------------

type conversationRepo struct{ db *db }

func (r *conversationRepo) Create(ctx context.Context, conv *messaging.Conversation) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if conv.IsActive {
		for _, existing := range r.db.conversations {
			if existing.IsActive &&
				existing.AgencyID == conv.AgencyID &&
				existing.ClientPhone == conv.ClientPhone &&
				existing.Type == conv.Type {
				return store.ErrConflict
			}
		}
	}

	cp := *conv
	r.db.conversations[conv.ID] = &cp
	return nil
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*messaging.Conversation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	conv, ok := r.db.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *conversationRepo) ActiveByDeal(ctx context.Context, dealID string) (*messaging.Conversation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, conv := range r.db.conversations {
		if conv.IsActive && conv.DealID == dealID {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *conversationRepo) ActiveByPhone(ctx context.Context, agencyID, clientPhone string) (*messaging.Conversation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, conv := range r.db.conversations {
		if conv.IsActive && conv.AgencyID == agencyID && conv.ClientPhone == clientPhone {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *conversationRepo) SetOptIn(ctx context.Context, id string, status messaging.OptInStatus, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	conv, ok := r.db.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	conv.OptInStatus = status
	switch status {
	case messaging.OptedIn:
		conv.OptedInAt = &at
	case messaging.OptedOut:
		conv.OptedOutAt = &at
	}
	return nil
}

func (r *conversationRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	conv, ok := r.db.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	return nil
}

// --- MessageRepository --------------------------------------------------

type messageRepo struct{ db *db }

func (r *messageRepo) Insert(ctx context.Context, msg *messaging.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *msg
	r.db.messages[msg.ID] = &cp
	r.db.msgOrder = append(r.db.msgOrder, msg.ID)
	return nil
}

func (r *messageRepo) Get(ctx context.Context, id string) (*messaging.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	msg, ok := r.db.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *messageRepo) ApproveDraft(ctx context.Context, id string, sentAt time.Time) (*messaging.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	msg, ok := r.db.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if msg.Status != messaging.StatusDraft {
		return nil, store.ErrNotDraft
	}
	msg.Status = messaging.StatusSent
	at := sentAt
	msg.SentAt = &at
	cp := *msg
	return &cp, nil
}

func (r *messageRepo) UpdateDraftBody(ctx context.Context, id, body string) (*messaging.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	msg, ok := r.db.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if msg.Status != messaging.StatusDraft {
		return nil, store.ErrNotDraft
	}
	msg.Body = body
	cp := *msg
	return &cp, nil
}

func (r *messageRepo) DeleteDraft(ctx context.Context, id string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	msg, ok := r.db.messages[id]
	if !ok || msg.Status != messaging.StatusDraft {
		return false, nil
	}
	delete(r.db.messages, id)
	return true, nil
}

func (r *messageRepo) MarkFailed(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	msg, ok := r.db.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	msg.Status = messaging.StatusFailed
	return nil
}

func (r *messageRepo) List(ctx context.Context, f store.MessageFilter) ([]messaging.Message, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var matched []messaging.Message
	for _, id := range r.db.msgOrder {
		msg, ok := r.db.messages[id]
		if !ok {
			continue
		}
		if f.ConversationID != "" && msg.ConversationID != f.ConversationID {
			continue
		}
		if f.AgencyID != "" {
			conv, ok := r.db.conversations[msg.ConversationID]
			if !ok || conv.AgencyID != f.AgencyID {
				continue
			}
		}
		if f.Status != "" && msg.Status != f.Status {
			continue
		}
		if f.Direction != "" && msg.Direction != f.Direction {
			continue
		}
		if !f.From.IsZero() && msg.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && msg.CreatedAt.After(f.To) {
			continue
		}
		matched = append(matched, *msg)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// --- TriggerLedger ------------------------------------------------------

type ledger struct{ db *db }

func ledgerKey(dealID string, t messaging.TriggerType, day time.Time) string {
	return strings.Join([]string{dealID, string(t), day.Format("2006-01-02")}, "|")
}

func (l *ledger) Claim(ctx context.Context, dealID string, t messaging.TriggerType, day time.Time) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	key := ledgerKey(dealID, t, day)
	if l.db.ledger[key] {
		return false, nil
	}
	l.db.ledger[key] = true
	return true, nil
}

// --- DealRepository -----------------------------------------------------

type dealRepo struct{ db *db }

func (r *dealRepo) ListActive(ctx context.Context) ([]store.Deal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []store.Deal
	for _, d := range r.db.deals {
		if d.PolicyActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *dealRepo) FindByClientPhone(ctx context.Context, agencyID, clientPhone string) (*store.Deal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.deals {
		if d.AgencyID == agencyID && d.ClientPhone == clientPhone {
			cp := d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- Directory ----------------------------------------------------------

type directory struct{ db *db }

func (d *directory) Agency(ctx context.Context, id string) (*store.Agency, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	a, ok := d.db.agencies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *directory) AgencyBySendingNumber(ctx context.Context, number string) (*store.Agency, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	for _, a := range d.db.agencies {
		if a.SendingNumber == number {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *directory) Agent(ctx context.Context, id string) (*store.Agent, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	a, ok := d.db.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// --- AgencyConfigSource -------------------------------------------------

type configSource struct{ db *db }

func (c *configSource) ConfigsFor(ctx context.Context, agencyIDs []string) (map[string]eligibility.AgencyConfig, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	out := make(map[string]eligibility.AgencyConfig, len(agencyIDs))
	for _, id := range agencyIDs {
		if cfg, ok := c.db.configs[id]; ok {
			out[id] = cfg
		}
	}
	return out, nil
}
