package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"kgraph/backend/internal/state"
)

const expansionSystemPrompt = `You are a knowledge graph reasoning system. When expanding the graph, follow these rules:

1. Every new node MUST connect to an existing node or to another node added in this answer.
2. New nodes may carry an "id" above the largest existing id so edges can reference them; otherwise omit it.
3. Return only JSON in this shape:
{
  "reasoning": string,
  "nodes": [{ "id": number, "label": string, "type": string, "metadata": { "description": string } }],
  "edges": [{ "sourceId": number, "targetId": number, "label": string, "weight": number }],
  "nextQuestion": string | null
}

Node types: concept, entity, process, attribute. Edge weights lie in [0,1].
Suggest a few highly relevant nodes and edges. Set nextQuestion to null when the topic is exhausted.`

const analysisSystemPrompt = `You are a semantic analysis expert. Extract knowledge graph elements from the content.

Return only JSON in this shape:
{
  "nodes": [{ "id": number, "label": string, "type": string, "metadata": { "description": string } }],
  "edges": [{ "sourceId": number, "targetId": number, "label": string, "weight": number }],
  "reasoning": string
}

Node types: concept, entity, process, attribute, image_concept. Edge labels describe the relationship and weights lie in [0,1].`

const validationSystemPrompt = `You validate relationships in a knowledge graph. For every target node, score how plausible a direct relationship from the source node is.

Return only JSON: { "confidenceScores": { "<targetId>": number between 0 and 1 }, "reasoning": string }`

const suggestionSystemPrompt = `Given knowledge graph nodes, suggest meaningful relationships between them. Only suggest high-confidence relationships.

Return only JSON: { "suggestions": [{ "sourceId": number, "targetId": number, "label": string, "confidence": number, "explanation": string }] }`

type promptNode struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type promptEdge struct {
	SourceID int64   `json:"sourceId"`
	TargetID int64   `json:"targetId"`
	Label    string  `json:"label"`
	Weight   float64 `json:"weight"`
}

func compactNodes(nodes []state.Node) []promptNode {
	out := make([]promptNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, promptNode{ID: n.ID, Label: n.Label, Type: n.Type})
	}
	return out
}

func compactEdges(edges []state.Edge) []promptEdge {
	out := make([]promptEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, promptEdge{SourceID: e.SourceID, TargetID: e.TargetID, Label: e.Label, Weight: e.Weight})
	}
	return out
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func expansionUserPrompt(prompt string, current state.GraphData) string {
	var sb strings.Builder
	sb.WriteString("Current graph state:\n")
	fmt.Fprintf(&sb, "Nodes: %s\n", toJSON(compactNodes(current.Nodes)))
	fmt.Fprintf(&sb, "Edges: %s\n\n", toJSON(compactEdges(current.Edges)))
	fmt.Fprintf(&sb, "Prompt for expansion: %s", prompt)
	return sb.String()
}

func analysisUserPrompt(text string, existing []state.Node) string {
	return fmt.Sprintf("Existing nodes:\n%s\n\nContent to analyze:\n%s", toJSON(compactNodes(existing)), text)
}

func validationUserPrompt(source state.Node, targets []state.Node) string {
	return fmt.Sprintf("Source node: %s\nTarget nodes: %s",
		toJSON(promptNode{ID: source.ID, Label: source.Label, Type: source.Type}),
		toJSON(compactNodes(targets)))
}

func suggestionUserPrompt(nodes []state.Node) string {
	return fmt.Sprintf("Nodes:\n%s", toJSON(compactNodes(nodes)))
}
