// Package conversation owns per-lead conversation state: the lead record,
// the append-only chat log, and the per-identity serialization boundary.
package conversation

import (
	"fmt"
	"time"

	"github.com/leadlinehq/leadline/internal/flow"
)

// Sender roles for chat-log entries.
const (
	SenderCustomer = "customer"
	SenderBot      = "bot"
)

// LeadKey is the composite identity a conversation is keyed by. At most one
// lead exists per key.
type LeadKey struct {
	TenantID       int64
	ChannelType    string
	ExternalUserID string
}

// String renders the key for lock-arena and log use.
func (k LeadKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.TenantID, k.ChannelType, k.ExternalUserID)
}

// Lead is a customer record derived from conversation activity.
type Lead struct {
	ID             int64
	TenantID       int64
	ChannelType    string
	ExternalUserID string
	CustomerName   string
	PhoneNumber    string
	Summary        string
	FlowState      flow.State
	CreatedAt      time.Time
}

// Key returns the lead's composite identity.
func (l Lead) Key() LeadKey {
	return LeadKey{TenantID: l.TenantID, ChannelType: l.ChannelType, ExternalUserID: l.ExternalUserID}
}

// Entry is one chat-log line. Entries are append-only and never mutated.
type Entry struct {
	ID        int64
	LeadID    int64
	Sender    string
	Message   string
	CreatedAt time.Time
}
