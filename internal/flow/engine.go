// Package flow runs guided multi-step conversations. A flow is a node graph
// authored per tenant; message nodes emit text and advance, question nodes
// emit text and wait for the user's answer, capturing it into a variable.
package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// NodeMessage emits content and moves on.
	NodeMessage = "message"
	// NodeQuestion emits content and suspends the flow until the next
	// inbound message, which is captured into Variable.
	NodeQuestion = "question"
)

// Node is one step of a flow graph.
type Node struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Variable string `json:"variable,omitempty"`
	Next     string `json:"next,omitempty"`
}

// Graph is a parsed flow definition.
type Graph struct {
	Nodes []Node `json:"nodes"`
}

// State is the per-lead position inside a flow. Zero FlowID means no active
// flow.
type State struct {
	FlowID  int64
	StepID  string
	Context map[string]string
}

// Active reports whether the lead is mid-flow.
func (s State) Active() bool {
	return s.FlowID != 0 && s.StepID != ""
}

// Result is the outcome of advancing a flow: accumulated node text plus the
// next persisted state. Done means the flow finished and state must be
// cleared.
type Result struct {
	Text  string
	State State
	Done  bool
}

// ParseGraph decodes a stored flow definition.
func ParseGraph(raw json.RawMessage) (Graph, error) {
	var g Graph
	if len(raw) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return Graph{}, fmt.Errorf("parse flow graph: %w", err)
	}
	return g, nil
}

// Start begins a flow from its start node (the node with id "start", or the
// first node). The second return is false when the graph is empty.
func Start(g Graph, flowID int64) (Result, bool) {
	if len(g.Nodes) == 0 {
		return Result{Done: true}, false
	}
	startID := g.Nodes[0].ID
	for _, n := range g.Nodes {
		if n.ID == "start" {
			startID = n.ID
			break
		}
	}
	return run(g, State{FlowID: flowID, Context: map[string]string{}}, startID), true
}

// Continue consumes the user's answer at the current question node and
// advances until the next question or the end of the graph. The second
// return is false when the stored step no longer exists in the graph; the
// caller clears state and falls through to normal resolution.
func Continue(g Graph, state State, answer string) (Result, bool) {
	nodes := nodeMap(g)
	current, ok := nodes[state.StepID]
	if !ok {
		return Result{State: state, Done: true}, false
	}

	if current.Variable != "" {
		if state.Context == nil {
			state.Context = map[string]string{}
		}
		state.Context[current.Variable] = strings.TrimSpace(answer)
	}
	return run(g, state, current.Next), true
}

// run walks nodes from startID, accumulating rendered content, until a
// question node (suspend) or the graph ends.
func run(g Graph, state State, startID string) Result {
	nodes := nodeMap(g)
	if state.Context == nil {
		state.Context = map[string]string{}
	}

	var responses []string
	currentID := startID
	// A linear graph visits each node at most once, so the step bound only
	// trips on a message-node cycle in tenant-authored data, which would
	// otherwise walk forever while the caller holds the conversation lock.
	for steps := 0; currentID != "" && steps < len(g.Nodes); steps++ {
		node, ok := nodes[currentID]
		if !ok {
			break
		}
		responses = append(responses, render(node.Content, state.Context))
		if node.Type == NodeQuestion {
			state.StepID = currentID
			return Result{Text: strings.Join(responses, "\n\n"), State: state}
		}
		currentID = node.Next
	}

	return Result{Text: strings.Join(responses, "\n\n"), State: State{}, Done: true}
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// render substitutes {variable} placeholders from captured context. A
// template referencing an unknown variable is returned untouched.
func render(template string, context map[string]string) string {
	missing := false
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := context[key]
		if !ok {
			missing = true
			return match
		}
		return value
	})
	if missing {
		return template
	}
	return out
}

func nodeMap(g Graph) map[string]Node {
	m := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		m[n.ID] = n
	}
	return m
}
