package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadGraph() Graph {
	return Graph{Nodes: []Node{
		{ID: "start", Type: NodeMessage, Content: "Welcome to the demo.", Next: "ask_name"},
		{ID: "ask_name", Type: NodeQuestion, Content: "What is your name?", Variable: "name", Next: "ask_budget"},
		{ID: "ask_budget", Type: NodeQuestion, Content: "Thanks {name}! What is your budget?", Variable: "budget", Next: "wrap"},
		{ID: "wrap", Type: NodeMessage, Content: "Got it, {name}. We will be in touch about {budget}."},
	}}
}

func TestParseGraph(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(leadGraph())
	require.NoError(t, err)

	g, err := ParseGraph(raw)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 4)

	_, err = ParseGraph(json.RawMessage(`{nope`))
	assert.Error(t, err)

	empty, err := ParseGraph(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Nodes)
}

func TestStartStopsAtFirstQuestion(t *testing.T) {
	t.Parallel()

	result, ok := Start(leadGraph(), 7)
	require.True(t, ok)
	assert.Equal(t, "Welcome to the demo.\n\nWhat is your name?", result.Text)
	assert.False(t, result.Done)
	assert.Equal(t, int64(7), result.State.FlowID)
	assert.Equal(t, "ask_name", result.State.StepID)
}

func TestStartEmptyGraph(t *testing.T) {
	t.Parallel()

	_, ok := Start(Graph{}, 1)
	assert.False(t, ok)
}

func TestContinueCapturesVariables(t *testing.T) {
	t.Parallel()

	started, ok := Start(leadGraph(), 7)
	require.True(t, ok)

	second, ok := Continue(leadGraph(), started.State, "  Ada  ")
	require.True(t, ok)
	assert.Equal(t, "Thanks Ada! What is your budget?", second.Text)
	assert.Equal(t, "ask_budget", second.State.StepID)
	assert.Equal(t, "Ada", second.State.Context["name"])

	final, ok := Continue(leadGraph(), second.State, "50k")
	require.True(t, ok)
	assert.True(t, final.Done)
	assert.Equal(t, "Got it, Ada. We will be in touch about 50k.", final.Text)
	assert.False(t, final.State.Active())
}

func TestContinueUnknownStep(t *testing.T) {
	t.Parallel()

	state := State{FlowID: 7, StepID: "gone"}
	result, ok := Continue(leadGraph(), state, "hello")
	assert.False(t, ok)
	assert.True(t, result.Done)
}

func TestStartCyclicGraphTerminates(t *testing.T) {
	t.Parallel()

	// Two message nodes pointing at each other must not walk forever; the
	// flow ends after visiting each node once.
	g := Graph{Nodes: []Node{
		{ID: "a", Type: NodeMessage, Content: "ping", Next: "b"},
		{ID: "b", Type: NodeMessage, Content: "pong", Next: "a"},
	}}
	result, ok := Start(g, 1)
	require.True(t, ok)
	assert.True(t, result.Done)
	assert.False(t, result.State.Active())
	assert.Equal(t, "ping\n\npong", result.Text)
}

func TestRenderLeavesTemplateOnMissingVariable(t *testing.T) {
	t.Parallel()

	g := Graph{Nodes: []Node{
		{ID: "start", Type: NodeMessage, Content: "Hello {name}, budget {budget}."},
	}}
	result, ok := Start(g, 1)
	require.True(t, ok)
	// No variables captured yet, so the template comes through verbatim.
	assert.Equal(t, "Hello {name}, budget {budget}.", result.Text)
}

func TestStateActive(t *testing.T) {
	t.Parallel()

	assert.False(t, State{}.Active())
	assert.False(t, State{FlowID: 3}.Active())
	assert.True(t, State{FlowID: 3, StepID: "ask_name"}.Active())
}
