// Package postgres implements the store interfaces on PostgreSQL via
// pgx. Conversation dedup and trigger idempotency are enforced by
// unique indexes; the Go side only translates conflict errors.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agencyos/textline/pkg/eligibility"
	"github.com/agencyos/textline/pkg/messaging"
	"github.com/agencyos/textline/pkg/store"
)

const uniqueViolation = "23505"

// Store bundles the pgx-backed repositories.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Bundle returns the store.Store wiring for this pool.
func (s *Store) Bundle() store.Store {
	return store.Store{
		Conversations: &conversationRepo{s.pool},
		Messages:      &messageRepo{s.pool},
		Ledger:        &ledger{s.pool},
		Deals:         &dealRepo{s.pool},
		Directory:     &directory{s.pool},
		Configs:       &configSource{s.pool},
	}
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- ConversationRepository ---------------------------------------------

type conversationRepo struct{ pool *pgxpool.Pool }

const conversationCols = `id, agency_id, agent_id, deal_id, client_phone, type,
	is_active, last_message_at, sms_opt_in_status, opted_in_at, opted_out_at, created_at`

func scanConversation(row pgx.Row) (*messaging.Conversation, error) {
	var c messaging.Conversation
	var dealID *string
	var lastMessageAt *time.Time
	err := row.Scan(&c.ID, &c.AgencyID, &c.AgentID, &dealID, &c.ClientPhone, &c.Type,
		&c.IsActive, &lastMessageAt, &c.OptInStatus, &c.OptedInAt, &c.OptedOutAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dealID != nil {
		c.DealID = *dealID
	}
	if lastMessageAt != nil {
		c.LastMessageAt = *lastMessageAt
	}
	return &c, nil
}

func (r *conversationRepo) Create(ctx context.Context, conv *messaging.Conversation) error {
	var dealID *string
	if conv.DealID != "" {
		dealID = &conv.DealID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations
			(id, agency_id, agent_id, deal_id, client_phone, type, is_active, sms_opt_in_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, conv.ID, conv.AgencyID, conv.AgentID, dealID, conv.ClientPhone, conv.Type,
		conv.IsActive, conv.OptInStatus, conv.CreatedAt)
	if isUnique(err) {
		return store.ErrConflict
	}
	return err
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*messaging.Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *conversationRepo) ActiveByDeal(ctx context.Context, dealID string) (*messaging.Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE deal_id = $1 AND is_active`, dealID)
	return scanConversation(row)
}

func (r *conversationRepo) ActiveByPhone(ctx context.Context, agencyID, clientPhone string) (*messaging.Conversation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE agency_id = $1 AND client_phone = $2 AND type = $3 AND is_active`,
		agencyID, clientPhone, messaging.ConversationTypeSMS)
	return scanConversation(row)
}

func (r *conversationRepo) SetOptIn(ctx context.Context, id string, status messaging.OptInStatus, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversations SET
			sms_opt_in_status = $2,
			opted_in_at  = CASE WHEN $2 = 'opted_in'  THEN $3 ELSE opted_in_at  END,
			opted_out_at = CASE WHEN $2 = 'opted_out' THEN $3 ELSE opted_out_at END
		WHERE id = $1
	`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *conversationRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)
	`, id, at)
	return err
}

// --- MessageRepository --------------------------------------------------

type messageRepo struct{ pool *pgxpool.Pool }

const messageCols = `id, conversation_id, sender_id, receiver_id, body,
	direction, status, sent_at, metadata, created_at`

func scanMessage(row pgx.Row) (*messaging.Message, error) {
	var m messaging.Message
	var metadata []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body,
		&m.Direction, &m.Status, &m.SentAt, &metadata, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding message metadata: %w", err)
		}
	}
	return &m, nil
}

func (r *messageRepo) Insert(ctx context.Context, msg *messaging.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO messages
			(id, conversation_id, sender_id, receiver_id, body, direction, status, sent_at, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body,
		msg.Direction, msg.Status, msg.SentAt, metadata, msg.CreatedAt)
	return err
}

func (r *messageRepo) Get(ctx context.Context, id string) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// ApproveDraft flips draft -> sent in one statement so concurrent
// approvers cannot both win.
func (r *messageRepo) ApproveDraft(ctx context.Context, id string, sentAt time.Time) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE messages SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'draft'
		RETURNING `+messageCols, id, sentAt)
	msg, err := scanMessage(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.draftMissReason(ctx, id)
	}
	return msg, err
}

func (r *messageRepo) UpdateDraftBody(ctx context.Context, id, body string) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE messages SET body = $2
		WHERE id = $1 AND status = 'draft'
		RETURNING `+messageCols, id, body)
	msg, err := scanMessage(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.draftMissReason(ctx, id)
	}
	return msg, err
}

// draftMissReason distinguishes a missing row from one that already
// transitioned out of draft.
func (r *messageRepo) draftMissReason(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrNotDraft
	}
	return store.ErrNotFound
}

func (r *messageRepo) DeleteDraft(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *messageRepo) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'failed' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *messageRepo) List(ctx context.Context, f store.MessageFilter) ([]messaging.Message, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ConversationID != "" {
		where += ` AND m.conversation_id = ` + arg(f.ConversationID)
	}
	if f.AgencyID != "" {
		where += ` AND c.agency_id = ` + arg(f.AgencyID)
	}
	if f.Status != "" {
		where += ` AND m.status = ` + arg(f.Status)
	}
	if f.Direction != "" {
		where += ` AND m.direction = ` + arg(f.Direction)
	}
	if !f.From.IsZero() {
		where += ` AND m.created_at >= ` + arg(f.From)
	}
	if !f.To.IsZero() {
		where += ` AND m.created_at <= ` + arg(f.To)
	}

	from := ` FROM messages m JOIN conversations c ON c.id = m.conversation_id`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.body,
		m.direction, m.status, m.sent_at, m.metadata, m.created_at` +
		from + where + ` ORDER BY m.created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *msg)
	}
	return out, total, rows.Err()
}

// --- TriggerLedger ------------------------------------------------------

type ledger struct{ pool *pgxpool.Pool }

// Claim is a compare-and-insert on the ledger's primary key; the
// RowsAffected count is the claim verdict.
func (l *ledger) Claim(ctx context.Context, dealID string, t messaging.TriggerType, day time.Time) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO trigger_ledger (deal_id, trigger_type, run_day)
		VALUES ($1, $2, $3)
		ON CONFLICT (deal_id, trigger_type, run_day) DO NOTHING
	`, dealID, t, day.Format("2006-01-02"))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- DealRepository -----------------------------------------------------

type dealRepo struct{ pool *pgxpool.Pool }

const dealCols = `id, agency_id, agent_id, client_name, client_phone, client_email,
	date_of_birth, policy_effective_date, billing_cycle, policy_active`

func scanDeal(row pgx.Row) (*store.Deal, error) {
	var d store.Deal
	var dob, effective *time.Time
	err := row.Scan(&d.ID, &d.AgencyID, &d.AgentID, &d.ClientName, &d.ClientPhone,
		&d.ClientEmail, &dob, &effective, &d.BillingCycle, &d.PolicyActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dob != nil {
		d.DateOfBirth = *dob
	}
	if effective != nil {
		d.PolicyEffectiveDate = *effective
	}
	return &d, nil
}

func (r *dealRepo) ListActive(ctx context.Context) ([]store.Deal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+dealCols+` FROM deals WHERE policy_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *dealRepo) FindByClientPhone(ctx context.Context, agencyID, clientPhone string) (*store.Deal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+dealCols+` FROM deals
		WHERE agency_id = $1 AND client_phone = $2
		ORDER BY created_at
		LIMIT 1
	`, agencyID, clientPhone)
	return scanDeal(row)
}

// --- Directory ----------------------------------------------------------

type directory struct{ pool *pgxpool.Pool }

func (d *directory) Agency(ctx context.Context, id string) (*store.Agency, error) {
	var a store.Agency
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, sending_number FROM agencies WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.SendingNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *directory) AgencyBySendingNumber(ctx context.Context, number string) (*store.Agency, error) {
	var a store.Agency
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, sending_number FROM agencies WHERE sending_number = $1`, number).
		Scan(&a.ID, &a.Name, &a.SendingNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *directory) Agent(ctx context.Context, id string) (*store.Agent, error) {
	var a store.Agent
	err := d.pool.QueryRow(ctx, `
		SELECT id, agency_id, name, phone, tier, auto_send_override
		FROM agents WHERE id = $1
	`, id).Scan(&a.ID, &a.AgencyID, &a.Name, &a.Phone, &a.Tier, &a.AutoSendOverride)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- AgencyConfigSource -------------------------------------------------

type configSource struct{ pool *pgxpool.Pool }

func (c *configSource) ConfigsFor(ctx context.Context, agencyIDs []string) (map[string]eligibility.AgencyConfig, error) {
	out := make(map[string]eligibility.AgencyConfig, len(agencyIDs))
	if len(agencyIDs) == 0 {
		return out, nil
	}

	rows, err := c.pool.Query(ctx, `
		SELECT agency_id, messaging_enabled, auto_send_enabled, triggers
		FROM agency_messaging_configs
		WHERE agency_id = ANY($1)
	`, agencyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cfg eligibility.AgencyConfig
		var triggers []byte
		if err := rows.Scan(&cfg.AgencyID, &cfg.MessagingEnabled, &cfg.AutoSendEnabled, &triggers); err != nil {
			return nil, err
		}
		if len(triggers) > 0 {
			if err := json.Unmarshal(triggers, &cfg.Triggers); err != nil {
				return nil, fmt.Errorf("decoding trigger config for %s: %w", cfg.AgencyID, err)
			}
		}
		out[cfg.AgencyID] = cfg
	}
	return out, rows.Err()
}
