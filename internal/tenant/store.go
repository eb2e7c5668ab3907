package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a tenant or integration does not exist.
var ErrNotFound = errors.New("tenant: not found")

// Store reads tenant configuration from PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a tenant config store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "tenant")),
	}
}

// GetTenant returns one tenant by id.
func (s *Store) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(system_prompt, ''), COALESCE(webhook_url, ''), is_active
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.SystemPrompt, &t.WebhookURL, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("get tenant %d: %w", id, err)
	}
	return t, nil
}

// IntegrationByVerifyToken resolves an active integration by its webhook
// verify token, restricted to the given channel types.
func (s *Store) IntegrationByVerifyToken(ctx context.Context, verifyToken string, channelTypes ...string) (Integration, error) {
	var i Integration
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, COALESCE(external_id, ''), COALESCE(access_token, ''), verify_token, is_active
		FROM channel_integrations
		WHERE verify_token = $1 AND channel_type = ANY($2) AND is_active
		ORDER BY id
		LIMIT 1
	`, verifyToken, channelTypes).Scan(
		&i.ID, &i.TenantID, &i.ChannelType, &i.ExternalID, &i.AccessToken, &i.VerifyToken, &i.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Integration{}, ErrNotFound
		}
		return Integration{}, fmt.Errorf("integration by verify token: %w", err)
	}
	return i, nil
}

// IntegrationByExternalID resolves an active integration by channel type and
// the channel-scoped external account identifier.
func (s *Store) IntegrationByExternalID(ctx context.Context, channelType, externalID string) (Integration, error) {
	var i Integration
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel_type, COALESCE(external_id, ''), COALESCE(access_token, ''), verify_token, is_active
		FROM channel_integrations
		WHERE channel_type = $1 AND external_id = $2 AND is_active
	`, channelType, externalID).Scan(
		&i.ID, &i.TenantID, &i.ChannelType, &i.ExternalID, &i.AccessToken, &i.VerifyToken, &i.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Integration{}, ErrNotFound
		}
		return Integration{}, fmt.Errorf("integration by external id: %w", err)
	}
	return i, nil
}

// ListActiveRules returns the tenant's active scripted rules in creation order.
func (s *Store) ListActiveRules(ctx context.Context, tenantID int64) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trigger_keyword, response_text
		FROM scripted_responses
		WHERE tenant_id = $1 AND is_active
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.TriggerKeyword, &r.ResponseText); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListActiveQuickReplies returns the tenant's active quick replies in display
// order.
func (s *Store) ListActiveQuickReplies(ctx context.Context, tenantID int64) ([]QuickReply, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, payload_text, COALESCE(response_text, ''), COALESCE(flow_id, 0), sort_order
		FROM quick_replies
		WHERE tenant_id = $1 AND is_active
		ORDER BY sort_order, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list quick replies: %w", err)
	}
	defer rows.Close()

	var items []QuickReply
	for rows.Next() {
		var q QuickReply
		if err := rows.Scan(&q.ID, &q.Title, &q.PayloadText, &q.ResponseText, &q.FlowID, &q.SortOrder); err != nil {
			return nil, fmt.Errorf("scan quick reply: %w", err)
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// ListActiveFlows returns the tenant's active flows.
func (s *Store) ListActiveFlows(ctx context.Context, tenantID int64) ([]Flow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(trigger_keyword, ''), flow_data
		FROM flows
		WHERE tenant_id = $1 AND is_active
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		var f Flow
		if err := rows.Scan(&f.ID, &f.Name, &f.TriggerKeyword, &f.Data); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// Snapshot fetches the tenant plus its active rules, quick replies, and flows
// as one per-request view.
func (s *Store) Snapshot(ctx context.Context, tenantID int64) (Snapshot, error) {
	t, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	rules, err := s.ListActiveRules(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	quick, err := s.ListActiveQuickReplies(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	flows, err := s.ListActiveFlows(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Tenant:       t,
		Rules:        rules,
		QuickReplies: quick,
		Flows:        flows,
		FetchedAt:    time.Now(),
	}, nil
}
