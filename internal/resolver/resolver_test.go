package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadlinehq/leadline/internal/conversation"
	"github.com/leadlinehq/leadline/internal/flow"
	"github.com/leadlinehq/leadline/internal/llm"
	"github.com/leadlinehq/leadline/internal/tenant"
)

type stubGenerator struct {
	reply  string
	err    error
	gotReq llm.Request
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.calls++
	g.gotReq = req
	return g.reply, g.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() tenant.Snapshot {
	return tenant.Snapshot{
		Tenant: tenant.Tenant{ID: 1, Active: true, SystemPrompt: "You sell bikes."},
		Rules: []tenant.Rule{
			{ID: 1, TriggerKeyword: "price", ResponseText: "Prices start at 100."},
			{ID: 2, TriggerKeyword: "price list", ResponseText: "Here is the full price list."},
			{ID: 3, TriggerKeyword: "hours", ResponseText: "Open 9 to 5."},
		},
		QuickReplies: []tenant.QuickReply{
			{ID: 10, Title: "Talk to sales", PayloadText: "SALES", ResponseText: "Connecting you to sales."},
			{ID: 11, Title: "Just browsing", PayloadText: "BROWSE"},
		},
	}
}

func TestResolveRuleTieBreaks(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{}
	engine := NewEngine(testLogger(), gen, "fallback")

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "longer keyword beats shorter", text: "send me the PRICE LIST please", want: "Here is the full price list."},
		{name: "short keyword alone", text: "what is the price?", want: "Prices start at 100."},
		{name: "case insensitive", text: "HOURS?", want: "Open 9 to 5."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, nil, tt.text)
			require.NoError(t, err)
			assert.Equal(t, SourceRule, result.Source)
			assert.Equal(t, tt.want, result.Text)
		})
	}
}

func TestResolveRuleEqualLengthLowestIDWins(t *testing.T) {
	t.Parallel()

	snap := tenant.Snapshot{
		Tenant: tenant.Tenant{ID: 1, Active: true},
		Rules: []tenant.Rule{
			{ID: 5, TriggerKeyword: "abc", ResponseText: "five"},
			{ID: 2, TriggerKeyword: "xyz", ResponseText: "two"},
		},
	}
	engine := NewEngine(testLogger(), &stubGenerator{}, "fallback")

	result, err := engine.Resolve(context.Background(), snap, conversation.Lead{}, nil, "abc and xyz")
	require.NoError(t, err)
	assert.Equal(t, "two", result.Text)
}

func TestResolveRuleRegexTrigger(t *testing.T) {
	t.Parallel()

	snap := tenant.Snapshot{
		Tenant: tenant.Tenant{ID: 1, Active: true},
		Rules: []tenant.Rule{
			{ID: 1, TriggerKeyword: `re:\border\s+#\d+\b`, ResponseText: "Let me look up that order."},
		},
	}
	engine := NewEngine(testLogger(), &stubGenerator{reply: "ai"}, "fallback")

	result, err := engine.Resolve(context.Background(), snap, conversation.Lead{}, nil, "status of Order #4412?")
	require.NoError(t, err)
	assert.Equal(t, SourceRule, result.Source)
	assert.Equal(t, "Let me look up that order.", result.Text)
}

func TestResolveRuleRegexCompetesWithPatternLength(t *testing.T) {
	t.Parallel()

	// The "re:" prefix carries no ranking weight: a 6-char pattern loses to
	// an 8-char keyword even though the raw trigger is 9 chars long.
	snap := tenant.Snapshot{
		Tenant: tenant.Tenant{ID: 1, Active: true},
		Rules: []tenant.Rule{
			{ID: 1, TriggerKeyword: `re:ord\d+`, ResponseText: "regex"},
			{ID: 2, TriggerKeyword: "ord4412?", ResponseText: "keyword"},
		},
	}
	engine := NewEngine(testLogger(), &stubGenerator{}, "fallback")

	result, err := engine.Resolve(context.Background(), snap, conversation.Lead{}, nil, "status of ord4412?")
	require.NoError(t, err)
	assert.Equal(t, "keyword", result.Text)

	// Equal pattern and keyword lengths break toward the lowest id.
	snap.Rules = []tenant.Rule{
		{ID: 7, TriggerKeyword: "re:ord #9", ResponseText: "regex"},
		{ID: 9, TriggerKeyword: "ord #9", ResponseText: "keyword"},
	}
	result, err = engine.Resolve(context.Background(), snap, conversation.Lead{}, nil, "about ord #9")
	require.NoError(t, err)
	assert.Equal(t, "regex", result.Text)
}

func TestResolveQuickReplyExactMatch(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "ai"}
	engine := NewEngine(testLogger(), gen, "fallback")

	result, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, nil, "  SALES  ")
	require.NoError(t, err)
	assert.Equal(t, SourceQuickReply, result.Source)
	assert.Equal(t, "Connecting you to sales.", result.Text)
	assert.Zero(t, gen.calls)
}

func TestResolveQuickReplyNearMissGoesToAI(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "generated"}
	engine := NewEngine(testLogger(), gen, "fallback")

	// Substring of a payload must not match.
	result, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, nil, "SALES please")
	require.NoError(t, err)
	assert.Equal(t, SourceAI, result.Source)
	assert.Equal(t, "generated", result.Text)
}

func TestResolveQuickReplyAcknowledgeOnly(t *testing.T) {
	t.Parallel()

	engine := NewEngine(testLogger(), &stubGenerator{}, "fallback")

	result, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, nil, "BROWSE")
	require.NoError(t, err)
	assert.True(t, result.Acknowledge)
	assert.Empty(t, result.Text)
}

func TestResolveAIFallbackOnError(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: errors.New("provider down")}
	engine := NewEngine(testLogger(), gen, "Sorry, try again later.")

	result, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, nil, "tell me something")
	require.Error(t, err)
	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, "Sorry, try again later.", result.Text)
}

func TestResolveAIRequestShape(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "sure"}
	engine := NewEngine(testLogger(), gen, "fallback")

	history := []conversation.Entry{
		{Sender: conversation.SenderCustomer, Message: "hi"},
		{Sender: conversation.SenderBot, Message: "hello"},
	}
	_, err := engine.Resolve(context.Background(), testSnapshot(), conversation.Lead{}, history, "do you ship?")
	require.NoError(t, err)

	assert.Equal(t, "You sell bikes.", gen.gotReq.SystemPrompt)
	assert.Equal(t, "do you ship?", gen.gotReq.UserMessage)
	require.Len(t, gen.gotReq.History, 2)
	assert.Equal(t, llm.RoleUser, gen.gotReq.History[0].Role)
	assert.Equal(t, llm.RoleAssistant, gen.gotReq.History[1].Role)
}

func flowSnapshot(t *testing.T) tenant.Snapshot {
	t.Helper()
	graph, err := json.Marshal(flow.Graph{Nodes: []flow.Node{
		{ID: "start", Type: flow.NodeQuestion, Content: "What is your name?", Variable: "name", Next: "bye"},
		{ID: "bye", Type: flow.NodeMessage, Content: "Thanks {name}!"},
	}})
	require.NoError(t, err)

	snap := testSnapshot()
	snap.Flows = []tenant.Flow{{ID: 42, Name: "intake", TriggerKeyword: "get started", Data: graph}}
	return snap
}

func TestResolveFlowTriggerStartsFlow(t *testing.T) {
	t.Parallel()

	engine := NewEngine(testLogger(), &stubGenerator{reply: "ai"}, "fallback")

	result, err := engine.Resolve(context.Background(), flowSnapshot(t), conversation.Lead{}, nil, "I want to GET STARTED now")
	require.NoError(t, err)
	assert.Equal(t, SourceFlow, result.Source)
	assert.Equal(t, "What is your name?", result.Text)
	require.NotNil(t, result.FlowState)
	assert.Equal(t, int64(42), result.FlowState.FlowID)
	assert.Equal(t, "start", result.FlowState.StepID)
}

func TestResolveMidFlowAnswerContinues(t *testing.T) {
	t.Parallel()

	engine := NewEngine(testLogger(), &stubGenerator{reply: "ai"}, "fallback")

	leadRec := conversation.Lead{FlowState: flow.State{FlowID: 42, StepID: "start"}}
	result, err := engine.Resolve(context.Background(), flowSnapshot(t), leadRec, nil, "Ada")
	require.NoError(t, err)
	assert.Equal(t, SourceFlow, result.Source)
	assert.Equal(t, "Thanks Ada!", result.Text)
	require.NotNil(t, result.FlowState)
	assert.False(t, result.FlowState.Active())
}

func TestResolveVanishedFlowClearsStateAndFallsThrough(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "generated"}
	engine := NewEngine(testLogger(), gen, "fallback")

	leadRec := conversation.Lead{FlowState: flow.State{FlowID: 999, StepID: "start"}}
	result, err := engine.Resolve(context.Background(), testSnapshot(), leadRec, nil, "anything")
	require.NoError(t, err)
	assert.Equal(t, SourceAI, result.Source)
	require.NotNil(t, result.FlowState)
	assert.False(t, result.FlowState.Active())
}

func TestResolveInterruptedFlowStillAnswersFlow(t *testing.T) {
	t.Parallel()

	// Rules do not fire while a flow is active.
	engine := NewEngine(testLogger(), &stubGenerator{}, "fallback")

	leadRec := conversation.Lead{FlowState: flow.State{FlowID: 42, StepID: "start"}}
	result, err := engine.Resolve(context.Background(), flowSnapshot(t), leadRec, nil, "price")
	require.NoError(t, err)
	assert.Equal(t, SourceFlow, result.Source)
	assert.Equal(t, "Thanks price!", result.Text)
}
