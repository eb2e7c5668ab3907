// Package tenant provides read-only access to tenant configuration: the
// tenant record itself, channel integrations, scripted rules, quick replies,
// and flows. All of it is owned and mutated by the administration layer;
// the pipeline only reads snapshots of it.
package tenant

import (
	"encoding/json"
	"time"
)

// Tenant is one isolated customer account.
type Tenant struct {
	ID           int64
	Name         string
	SystemPrompt string
	WebhookURL   string
	Active       bool
}

// Integration binds a tenant to one external messaging channel.
type Integration struct {
	ID          int64
	TenantID    int64
	ChannelType string
	// ExternalID is the channel-scoped account identifier: WhatsApp phone
	// number id, Messenger page id, Instagram business account id.
	ExternalID  string
	AccessToken string
	VerifyToken string
	Active      bool
}

// Rule is a keyword-triggered scripted response.
type Rule struct {
	ID             int64
	TriggerKeyword string
	ResponseText   string
}

// QuickReply is a predefined button-style response option. Matching against
// PayloadText is exact (after trimming), never substring.
type QuickReply struct {
	ID           int64
	Title        string
	PayloadText  string
	ResponseText string
	FlowID       int64
	SortOrder    int
}

// Flow is a guided multi-step conversation definition. Data holds the raw
// node graph; the flow package interprets it.
type Flow struct {
	ID             int64
	Name           string
	TriggerKeyword string
	Data           json.RawMessage
}

// Snapshot is the per-pipeline-run view of one tenant's configuration.
// It is fetched once per inbound message and never cached beyond it.
type Snapshot struct {
	Tenant       Tenant
	Rules        []Rule
	QuickReplies []QuickReply
	Flows        []Flow
	FetchedAt    time.Time
}
