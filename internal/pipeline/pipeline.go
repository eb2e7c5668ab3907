// Package pipeline runs one inbound message through the full conversation
// cycle: load tenant configuration, serialize on the lead, resolve a reply,
// persist both sides of the exchange, deliver the reply, and hand the
// side effects (lead extraction, tenant webhook) to a background pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/leadlinehq/leadline/internal/channel"
	"github.com/leadlinehq/leadline/internal/conversation"
	"github.com/leadlinehq/leadline/internal/flow"
	"github.com/leadlinehq/leadline/internal/lead"
	"github.com/leadlinehq/leadline/internal/notify"
	"github.com/leadlinehq/leadline/internal/resolver"
	"github.com/leadlinehq/leadline/internal/tenant"
)

// SnapshotStore loads per-tenant configuration.
type SnapshotStore interface {
	Snapshot(ctx context.Context, tenantID int64) (tenant.Snapshot, error)
}

// ConversationStore owns lead records, the chat log, and the per-lead
// serialization boundary.
type ConversationStore interface {
	Lock(key conversation.LeadKey) func()
	EnsureLead(ctx context.Context, key conversation.LeadKey) (conversation.Lead, error)
	Context(ctx context.Context, leadID int64, window int) ([]conversation.Entry, error)
	Append(ctx context.Context, leadID int64, sender, message string) (conversation.Entry, error)
	SetFlowState(ctx context.Context, leadID int64, state flow.State) error
}

// LeadExtractor mines contact details out of one inbound message.
type LeadExtractor interface {
	Process(ctx context.Context, leadID int64, message, senderID string) (*lead.Capture, error)
}

// WebhookNotifier delivers events to the tenant's callback endpoint.
type WebhookNotifier interface {
	Notify(ctx context.Context, url string, tenantID int64, eventType string, data map[string]any) error
}

type task func(ctx context.Context)

// Pipeline is the inbound message processor.
type Pipeline struct {
	tenants       SnapshotStore
	conversations ConversationStore
	engine        *resolver.Engine
	registry      *channel.Registry
	extractor     LeadExtractor
	notifier      WebhookNotifier
	contextWindow int
	logger        *slog.Logger

	queue      chan task
	workers    int
	startOnce  sync.Once
	cancelOnce sync.Once
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Options tunes the pipeline; zero values fall back to sane defaults.
type Options struct {
	ContextWindow int
	Workers       int
	QueueSize     int
}

// New creates a pipeline.
func New(
	log *slog.Logger,
	tenants SnapshotStore,
	conversations ConversationStore,
	engine *resolver.Engine,
	registry *channel.Registry,
	extractor LeadExtractor,
	notifier WebhookNotifier,
	opts Options,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Pipeline{
		tenants:       tenants,
		conversations: conversations,
		engine:        engine,
		registry:      registry,
		extractor:     extractor,
		notifier:      notifier,
		contextWindow: opts.ContextWindow,
		logger:        log.With(slog.String("service", "pipeline")),
		queue:         make(chan task, opts.QueueSize),
		workers:       opts.Workers,
	}
}

// Registry returns the channel adapter registry used by this pipeline.
func (p *Pipeline) Registry() *channel.Registry {
	return p.registry
}

// Start launches the background worker pool for async side effects.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for {
					select {
					case <-workerCtx.Done():
						return
					case t, ok := <-p.queue:
						if !ok {
							return
						}
						t(workerCtx)
					}
				}
			}()
		}
		p.logger.Info("pipeline workers started", slog.Int("workers", p.workers))
	})
}

// Shutdown stops the worker pool. Queued tasks that have not started are
// dropped; side effects are best-effort by contract.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.cancelOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs one normalized inbound message end to end. The webhook
// handler has already acknowledged the channel by the time this runs, so the
// work is detached from the request's cancellation.
func (p *Pipeline) Process(ctx context.Context, integ tenant.Integration, msg channel.InboundMessage) error {
	ctx = context.WithoutCancel(ctx)

	snap, err := p.tenants.Snapshot(ctx, integ.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant snapshot: %w", err)
	}
	if !snap.Tenant.Active {
		p.logger.Debug("tenant inactive, dropping message",
			slog.Int64("tenant_id", integ.TenantID))
		return nil
	}

	key := conversation.LeadKey{
		TenantID:       integ.TenantID,
		ChannelType:    msg.Channel.String(),
		ExternalUserID: msg.ExternalUserID,
	}

	result, leadRec, err := p.resolveAndPersist(ctx, snap, key, msg)
	if err != nil {
		return err
	}

	if !result.Acknowledge && result.Text != "" {
		p.deliver(ctx, snap, integ, msg, result)
	}

	p.enqueueSideEffects(snap, leadRec, msg)
	return nil
}

// resolveAndPersist holds the per-lead lock across the read-resolve-write
// window so concurrent messages from the same user serialize.
func (p *Pipeline) resolveAndPersist(
	ctx context.Context,
	snap tenant.Snapshot,
	key conversation.LeadKey,
	msg channel.InboundMessage,
) (resolver.Result, conversation.Lead, error) {
	unlock := p.conversations.Lock(key)
	defer unlock()

	leadRec, err := p.conversations.EnsureLead(ctx, key)
	if err != nil {
		return resolver.Result{}, conversation.Lead{}, err
	}

	history, err := p.conversations.Context(ctx, leadRec.ID, p.contextWindow)
	if err != nil {
		return resolver.Result{}, conversation.Lead{}, err
	}

	text := mapMenuSelection(msg.Text, snap.QuickReplies)

	result, resolveErr := p.engine.Resolve(ctx, snap, leadRec, history, text)
	if resolveErr != nil {
		// Fallback text is already in the result; log and keep going.
		p.logger.Warn("resolution degraded to fallback",
			slog.Int64("tenant_id", snap.Tenant.ID),
			slog.Int64("lead_id", leadRec.ID),
			slog.Any("error", resolveErr),
		)
	}

	if _, err := p.conversations.Append(ctx, leadRec.ID, conversation.SenderCustomer, msg.Text); err != nil {
		return resolver.Result{}, conversation.Lead{}, err
	}
	if !result.Acknowledge && result.Text != "" {
		if _, err := p.conversations.Append(ctx, leadRec.ID, conversation.SenderBot, result.Text); err != nil {
			return resolver.Result{}, conversation.Lead{}, err
		}
	}
	if result.FlowState != nil {
		if err := p.conversations.SetFlowState(ctx, leadRec.ID, *result.FlowState); err != nil {
			return resolver.Result{}, conversation.Lead{}, err
		}
	}
	return result, leadRec, nil
}

// deliver sends the reply out. Failures are logged, never rolled back: the
// conversation record keeps what the resolver decided.
func (p *Pipeline) deliver(
	ctx context.Context,
	snap tenant.Snapshot,
	integ tenant.Integration,
	msg channel.InboundMessage,
	result resolver.Result,
) {
	sender, ok := p.registry.Sender(msg.Channel)
	if !ok {
		p.logger.Error("no sender registered for channel",
			slog.String("channel", msg.Channel.String()))
		return
	}
	reply := channel.Reply{
		Target:       msg.ReplyTarget,
		Text:         result.Text,
		QuickReplies: menuButtons(snap.QuickReplies),
	}
	creds := channel.SendCredentials{
		AccessToken: integ.AccessToken,
		AccountID:   integ.ExternalID,
	}
	if err := channel.Deliver(ctx, p.logger, sender, msg.Channel, creds, reply); err != nil {
		p.logger.Error("outbound delivery failed",
			slog.Int64("tenant_id", snap.Tenant.ID),
			slog.String("channel", msg.Channel.String()),
			slog.String("source", string(result.Source)),
			slog.Any("error", err),
		)
		return
	}
	p.logger.Info("reply delivered",
		slog.Int64("tenant_id", snap.Tenant.ID),
		slog.String("channel", msg.Channel.String()),
		slog.String("source", string(result.Source)),
	)
}

// enqueueSideEffects hands lead extraction and the tenant webhook to the
// worker pool. A full queue drops the task; both effects are best-effort.
func (p *Pipeline) enqueueSideEffects(snap tenant.Snapshot, leadRec conversation.Lead, msg channel.InboundMessage) {
	key := leadRec.Key()
	t := func(ctx context.Context) {
		capture, err := p.extractor.Process(ctx, leadRec.ID, msg.Text, msg.ExternalUserID)
		if err != nil {
			p.logger.Warn("lead extraction failed",
				slog.Int64("lead_id", leadRec.ID), slog.Any("error", err))
			return
		}
		if capture == nil {
			return
		}
		err = p.notifier.Notify(ctx, snap.Tenant.WebhookURL, snap.Tenant.ID, notify.LeadCaptured, map[string]any{
			"lead_id":          leadRec.ID,
			"channel_type":     key.ChannelType,
			"external_user_id": key.ExternalUserID,
			"customer_name":    capture.CustomerName,
			"phone_number":     capture.PhoneNumber,
			"email":            capture.Email,
			"summary":          capture.Summary,
		})
		if err != nil {
			p.logger.Debug("lead webhook not delivered",
				slog.Int64("lead_id", leadRec.ID), slog.Any("error", err))
		}
	}

	select {
	case p.queue <- t:
	default:
		p.logger.Warn("side-effect queue full, dropping task",
			slog.Int64("lead_id", leadRec.ID))
	}
}

// mapMenuSelection translates a bare menu number into the corresponding
// quick-reply payload. Channels without native buttons render quick replies
// as a numbered text menu, so "2" means the second option.
func mapMenuSelection(text string, items []tenant.QuickReply) string {
	trimmed := strings.TrimSpace(text)
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > len(items) {
		return text
	}
	return items[n-1].PayloadText
}

func menuButtons(items []tenant.QuickReply) []channel.QuickReplyButton {
	buttons := make([]channel.QuickReplyButton, 0, len(items))
	for i, q := range items {
		buttons = append(buttons, channel.QuickReplyButton{
			ID:    strconv.Itoa(i + 1),
			Title: q.Title,
		})
	}
	return buttons
}
