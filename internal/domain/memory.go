package domain

import (
	"sort"
	"strings"
)

// Fact is a key/value pair in a user's knowledge graph.
type Fact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MemoryMatch is a semantic-memory hit with its relevance score.
type MemoryMatch struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ContextBundle is the context window assembled for one request.
type ContextBundle struct {
	SemanticMatches []string          `json:"semantic_matches"`
	GraphFacts      map[string]string `json:"graph_facts"`
	PriorTurns      []Utterance       `json:"prior_turns"`
}

// FactsText renders graph facts as "key: value" lines in key order.
func (b ContextBundle) FactsText() string {
	keys := make([]string, 0, len(b.GraphFacts))
	for k := range b.GraphFacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+b.GraphFacts[k])
	}
	return strings.Join(lines, "\n")
}

// HistoryText renders prior turns as "Speaker: text" lines.
func (b ContextBundle) HistoryText() string {
	lines := make([]string, 0, len(b.PriorTurns))
	for _, u := range b.PriorTurns {
		lines = append(lines, u.Speaker+": "+u.Text)
	}
	return strings.Join(lines, "\n")
}

// MemoryText joins semantic matches one per line.
func (b ContextBundle) MemoryText() string {
	return strings.Join(b.SemanticMatches, "\n")
}
