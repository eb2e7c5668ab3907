package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadlinehq/leadline/internal/channel"
	"github.com/leadlinehq/leadline/internal/conversation"
	"github.com/leadlinehq/leadline/internal/flow"
	"github.com/leadlinehq/leadline/internal/lead"
	"github.com/leadlinehq/leadline/internal/llm"
	"github.com/leadlinehq/leadline/internal/resolver"
	"github.com/leadlinehq/leadline/internal/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGenerator struct {
	reply string
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	return g.reply, g.err
}

type fakeSnapshots struct {
	snap tenant.Snapshot
}

func (f *fakeSnapshots) Snapshot(ctx context.Context, tenantID int64) (tenant.Snapshot, error) {
	return f.snap, nil
}

// memoryConversations is an in-memory ConversationStore that reuses the real
// per-key locking contract and flags any overlap inside the locked section.
type memoryConversations struct {
	mu      sync.Mutex
	locks   map[conversation.LeadKey]*sync.Mutex
	leads   map[conversation.LeadKey]conversation.Lead
	nextID  int64
	entries []conversation.Entry
	states  map[int64]flow.State

	inCritical atomic.Int32
	violations atomic.Int32
}

func newMemoryConversations() *memoryConversations {
	return &memoryConversations{
		locks:  map[conversation.LeadKey]*sync.Mutex{},
		leads:  map[conversation.LeadKey]conversation.Lead{},
		states: map[int64]flow.State{},
	}
}

func (s *memoryConversations) enter() {
	if s.inCritical.Add(1) != 1 {
		s.violations.Add(1)
	}
}

func (s *memoryConversations) exit() {
	s.inCritical.Add(-1)
}

func (s *memoryConversations) Lock(key conversation.LeadKey) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *memoryConversations) EnsureLead(ctx context.Context, key conversation.LeadKey) (conversation.Lead, error) {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.leads[key]; ok {
		return rec, nil
	}
	s.nextID++
	rec := conversation.Lead{
		ID:             s.nextID,
		TenantID:       key.TenantID,
		ChannelType:    key.ChannelType,
		ExternalUserID: key.ExternalUserID,
	}
	s.leads[key] = rec
	return rec, nil
}

func (s *memoryConversations) Context(ctx context.Context, leadID int64, window int) ([]conversation.Entry, error) {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Entry
	for _, e := range s.entries {
		if e.LeadID == leadID {
			out = append(out, e)
		}
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out, nil
}

func (s *memoryConversations) Append(ctx context.Context, leadID int64, sender, message string) (conversation.Entry, error) {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := conversation.Entry{ID: int64(len(s.entries) + 1), LeadID: leadID, Sender: sender, Message: message}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *memoryConversations) SetFlowState(ctx context.Context, leadID int64, state flow.State) error {
	s.enter()
	defer s.exit()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[leadID] = state
	return nil
}

func (s *memoryConversations) bySender(sender string) []conversation.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Entry
	for _, e := range s.entries {
		if e.Sender == sender {
			out = append(out, e)
		}
	}
	return out
}

type recordingSender struct {
	mu   sync.Mutex
	sent []channel.Reply
}

func (s *recordingSender) Type() channel.ChannelType {
	return channel.TypeTelegram
}

func (s *recordingSender) Send(ctx context.Context, creds channel.SendCredentials, reply channel.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reply)
	return nil
}

func (s *recordingSender) replies() []channel.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.Reply(nil), s.sent...)
}

type stubExtractor struct {
	capture *lead.Capture
	calls   atomic.Int32
}

func (e *stubExtractor) Process(ctx context.Context, leadID int64, message, senderID string) (*lead.Capture, error) {
	e.calls.Add(1)
	return e.capture, nil
}

// blockingNotifier holds every Notify call until release is closed.
type blockingNotifier struct {
	release chan struct{}
	calls   chan map[string]any
}

func (n *blockingNotifier) Notify(ctx context.Context, url string, tenantID int64, eventType string, data map[string]any) error {
	<-n.release
	n.calls <- data
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, url string, tenantID int64, eventType string, data map[string]any) error {
	return nil
}

func activeSnapshot() tenant.Snapshot {
	return tenant.Snapshot{
		Tenant: tenant.Tenant{ID: 1, Active: true, WebhookURL: "https://example.test/hook"},
	}
}

func testIntegration() tenant.Integration {
	return tenant.Integration{ID: 1, TenantID: 1, ChannelType: "telegram", AccessToken: "tok"}
}

func inbound(userID, text string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:        channel.TypeTelegram,
		ExternalUserID: userID,
		ReplyTarget:    userID,
		Text:           text,
	}
}

func buildPipeline(t *testing.T, gen resolver.Generator, store *memoryConversations, extractor LeadExtractor, notifier WebhookNotifier) (*Pipeline, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	registry := channel.NewRegistry()
	require.NoError(t, registry.Register(sender))

	log := testLogger()
	engine := resolver.NewEngine(log, gen, "Back shortly.")
	p := New(log, &fakeSnapshots{snap: activeSnapshot()}, store, engine, registry, extractor, notifier, Options{})
	return p, sender
}

func TestProcessAIFailureStillAppendsFallback(t *testing.T) {
	t.Parallel()

	store := newMemoryConversations()
	p, sender := buildPipeline(t, &stubGenerator{err: errors.New("provider down")}, store, &stubExtractor{}, noopNotifier{})

	err := p.Process(context.Background(), testIntegration(), inbound("u1", "tell me something"))
	require.NoError(t, err)

	customer := store.bySender(conversation.SenderCustomer)
	require.Len(t, customer, 1)
	assert.Equal(t, "tell me something", customer[0].Message)

	bot := store.bySender(conversation.SenderBot)
	require.Len(t, bot, 1)
	assert.Equal(t, "Back shortly.", bot[0].Message)

	replies := sender.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "Back shortly.", replies[0].Text)
}

func TestProcessConcurrentSameKeySerializes(t *testing.T) {
	t.Parallel()

	const n = 24
	store := newMemoryConversations()
	p, sender := buildPipeline(t, &stubGenerator{reply: "ok"}, store, &stubExtractor{}, noopNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Process(context.Background(), testIntegration(), inbound("u1", "hello")))
		}()
	}
	wg.Wait()

	// One lead, N customer and N bot entries, and no overlap inside the
	// locked read-resolve-write window.
	assert.Len(t, store.leads, 1)
	assert.Len(t, store.bySender(conversation.SenderCustomer), n)
	assert.Len(t, store.bySender(conversation.SenderBot), n)
	assert.Zero(t, store.violations.Load())
	assert.Len(t, sender.replies(), n)
}

func TestProcessSlowNotifierDoesNotDelayReply(t *testing.T) {
	t.Parallel()

	store := newMemoryConversations()
	notifier := &blockingNotifier{release: make(chan struct{}), calls: make(chan map[string]any, 1)}
	extractor := &stubExtractor{capture: &lead.Capture{PhoneNumber: "555-123-4567", Summary: "Captured lead: phone=555-123-4567"}}
	p, sender := buildPipeline(t, &stubGenerator{reply: "ok"}, store, extractor, notifier)

	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	start := time.Now()
	err := p.Process(context.Background(), testIntegration(), inbound("u1", "call me at 555-123-4567"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, sender.replies(), 1)

	// The webhook fires only after the notifier unblocks.
	close(notifier.release)
	select {
	case data := <-notifier.calls:
		assert.Equal(t, "telegram", data["channel_type"])
		assert.Equal(t, "u1", data["external_user_id"])
		assert.Equal(t, "555-123-4567", data["phone_number"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook notification never fired")
	}
}

func TestProcessInactiveTenantDrops(t *testing.T) {
	t.Parallel()

	store := newMemoryConversations()
	extractor := &stubExtractor{}
	p, sender := buildPipeline(t, &stubGenerator{reply: "ok"}, store, extractor, noopNotifier{})
	p.tenants = &fakeSnapshots{snap: tenant.Snapshot{Tenant: tenant.Tenant{ID: 1, Active: false}}}

	err := p.Process(context.Background(), testIntegration(), inbound("u1", "hello"))
	require.NoError(t, err)
	assert.Empty(t, store.entries)
	assert.Empty(t, sender.replies())
	assert.Zero(t, extractor.calls.Load())
}
