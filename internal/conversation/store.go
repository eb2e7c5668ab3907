package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadlinehq/leadline/internal/flow"
)

// Store persists leads and chat logs, and hands out the per-identity locks
// that serialize the read-modify-append section.
type Store struct {
	pool   *pgxpool.Pool
	locks  *Locks
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		locks:  NewLocks(),
		logger: log.With(slog.String("service", "conversation")),
	}
}

// Lock acquires the serialization lock for one lead identity and returns the
// release function. Held for load-context → resolve → append only; released
// before the outbound send and async side effects.
func (s *Store) Lock(key LeadKey) func() {
	return s.locks.Acquire(key.String())
}

// PruneLocks drops idle per-identity mutexes. Called from the housekeeping
// scheduler.
func (s *Store) PruneLocks(idleFor time.Duration) int {
	removed := s.locks.Prune(idleFor)
	if removed > 0 {
		s.logger.Debug("pruned idle conversation locks", slog.Int("removed", removed))
	}
	return removed
}

// EnsureLead returns the lead for the key, creating it on first contact.
/// Creation is exactly-once: a concurrent duplicate insert loses to the
// unique index and falls back to reading the winner's row.
func (s *Store) EnsureLead(ctx context.Context, key LeadKey) (Lead, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, channel_type, external_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, channel_type, external_user_id) DO NOTHING
		RETURNING id
	`, key.TenantID, key.ChannelType, key.ExternalUserID).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}
	if err == nil {
		s.logger.Info("lead created",
			slog.Int64("tenant_id", key.TenantID),
			slog.String("channel", key.ChannelType),
			slog.Int64("lead_id", id),
		)
	}
	return s.GetLead(ctx, key)
}

// GetLead reads one lead by identity.
func (s *Store) GetLead(ctx context.Context, key LeadKey) (Lead, error) {
	lead, flowContext, err := s.scanLead(s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, external_user_id,
		       COALESCE(customer_name, ''), COALESCE(phone_number, ''), COALESCE(summary, ''),
		       COALESCE(current_flow_id, 0), COALESCE(current_step_id, ''), flow_context, created_at
		FROM leads
		WHERE tenant_id = $1 AND channel_type = $2 AND external_user_id = $3
	`, key.TenantID, key.ChannelType, key.ExternalUserID))
	if err != nil {
		return Lead{}, err
	}
	lead.FlowState.Context = flowContext
	return lead, nil
}

func (s *Store) scanLead(row pgx.Row) (Lead, map[string]string, error) {
	var lead Lead
	var rawContext []byte
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.ChannelType, &lead.ExternalUserID,
		&lead.CustomerName, &lead.PhoneNumber, &lead.Summary,
		&lead.FlowState.FlowID, &lead.FlowState.StepID, &rawContext, &lead.CreatedAt,
	)
	if err != nil {
		return Lead{}, nil, fmt.Errorf("read lead: %w", err)
	}
	flowContext := map[string]string{}
	if len(rawContext) > 0 {
		if err := json.Unmarshal(rawContext, &flowContext); err != nil {
			return Lead{}, nil, fmt.Errorf("decode flow context: %w", err)
		}
	}
	return lead, flowContext, nil
}

// Context returns the most recent window entries of the lead's chat log in
// chronological order.
func (s *Store) Context(ctx context.Context, leadID int64, window int) ([]Entry, error) {
	if window <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, sender_type, message, created_at
		FROM chat_logs
		WHERE lead_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, leadID, window)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Sender, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want receipt order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Append writes one chat-log entry. Entries are never updated or deleted.
func (s *Store) Append(ctx context.Context, leadID int64, sender, message string) (Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_logs (lead_id, sender_type, message)
		VALUES ($1, $2, $3)
		RETURNING id, lead_id, sender_type, message, created_at
	`, leadID, sender, message).Scan(&e.ID, &e.LeadID, &e.Sender, &e.Message, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("append chat log: %w", err)
	}
	return e, nil
}

// SetFlowState persists the lead's position inside a flow. A zero state
// clears it.
func (s *Store) SetFlowState(ctx context.Context, leadID int64, state flow.State) error {
	contextJSON, err := json.Marshal(nonNilContext(state.Context))
	if err != nil {
		return fmt.Errorf("encode flow context: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE leads
		SET current_flow_id = NULLIF($2, 0), current_step_id = NULLIF($3, ''), flow_context = $4
		WHERE id = $1
	`, leadID, state.FlowID, state.StepID, contextJSON)
	if err != nil {
		return fmt.Errorf("update flow state: %w", err)
	}
	return nil
}

// UpdateContact fills in extracted contact fields. Existing name and phone
// are kept; the summary is replaced when a new one is supplied.
func (s *Store) UpdateContact(ctx context.Context, leadID int64, name, phone, summary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE leads
		SET customer_name = COALESCE(NULLIF(customer_name, ''), NULLIF($2, '')),
		    phone_number  = COALESCE(NULLIF(phone_number, ''), NULLIF($3, '')),
		    summary       = COALESCE(NULLIF($4, ''), summary)
		WHERE id = $1
	`, leadID, name, phone, summary)
	if err != nil {
		return fmt.Errorf("update lead contact: %w", err)
	}
	return nil
}

func nonNilContext(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
