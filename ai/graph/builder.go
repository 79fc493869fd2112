// Package graph turns topic clusters into a named knowledge graph: labeled
// nodes and pairwise relation edges classified by an external completion
// service, with deterministic fallbacks for every way that service can fail.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/mindgraph/ai"
	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/internal/strutil"
)

// Node is one topic in the knowledge graph.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Size  int    `json:"size"`
	Color string `json:"color"`
}

// Edge is a directed relation between two topics.
type Edge struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	Type          string `json:"type"`
	Value         int    `json:"value"`
	Reason        string `json:"reason"`
	Bidirectional bool   `json:"bidirectional"`
}

// Graph is the built knowledge graph. Version is stamped by the cache layer.
// Reason is set only on empty graphs and tells the client why there is
// nothing to show.
type Graph struct {
	Nodes   []*Node `json:"nodes"`
	Links   []*Edge `json:"links"`
	Version int64   `json:"version"`
	Reason  string  `json:"reason,omitempty"`
}

// edgeStyle is the presentation weight for one relation kind. A pure lookup,
// nothing inferred.
type edgeStyle struct {
	Type  string
	Value int
}

var edgeStyles = map[Relation]edgeStyle{
	RelationContains:   {Type: "contains", Value: 4},
	RelationReferences: {Type: "references", Value: 3},
	RelationApplies:    {Type: "applies", Value: 3},
	RelationSimilar:    {Type: "similar", Value: 2},
}

// defaultEdgeStyle is used when the completion couldn't be parsed at all; the
// pair still gets an edge so the graph stays connected.
var defaultEdgeStyle = edgeStyle{Type: "related", Value: 1}

const defaultEdgeReason = "These topics appear in the same body of memories."

// genericLabels is the last-resort label pool, cycled by cluster index.
// None are numeric; a bare "Cluster 3" never reaches the user.
var genericLabels = []string{
	"Recurring Notes",
	"Everyday Threads",
	"Collected Thoughts",
	"Ongoing Interests",
	"Assorted Ideas",
	"Open Questions",
}

var nodeColors = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2",
	"#59a14f", "#edc948", "#b07aa1", "#ff9da7",
}

const (
	// allPairsMax is the topic count up to which every pair is classified.
	allPairsMax = 5
	// sampledPairsMax bounds external calls for larger graphs.
	sampledPairsMax = 10

	labelMaxKeywords = 3
	labelMaxTexts    = 5
)

const labelSystemPrompt = `You name topics for a personal memory graph.
Given example texts and keywords from one topic, answer with a short label,
2 to 50 characters, on a single line. No quotes, no explanation.`

const relationSystemPrompt = `You classify the relation between two topics from a personal memory graph.
Answer on the first line with exactly one of: contains, references, applies, similar, unrelated.
On the second line write "reason: " followed by one short sentence.`

// Builder assembles knowledge graphs from cluster results.
type Builder struct {
	relation ai.RelationService
}

// NewBuilder creates a graph builder. A nil relation service is allowed and
// forces every label and edge onto the deterministic fallback paths.
func NewBuilder(relation ai.RelationService) *Builder {
	return &Builder{relation: relation}
}

// Build names the topics and classifies their pairwise relations. External
// failures never abort the build: labels degrade to keyword heuristics and
// relations degrade to generic edges.
func (b *Builder) Build(ctx context.Context, topics []*cluster.Topic) *Graph {
	graph := &Graph{
		Nodes: make([]*Node, 0, len(topics)),
		Links: []*Edge{},
	}

	for i, topic := range topics {
		label := b.labelTopic(ctx, i, topic)
		topic.Label = label
		graph.Nodes = append(graph.Nodes, &Node{
			ID:    nodeID(i),
			Label: label,
			Size:  len(topic.MemberMemoryIDs),
			Color: nodeColors[i%len(nodeColors)],
		})
	}

	for _, pair := range selectPairs(len(topics)) {
		edges := b.relateTopics(ctx, pair[0], pair[1], topics)
		graph.Links = append(graph.Links, edges...)
	}

	return graph
}

// labelTopic asks the completion service for a short human label, falling
// back to keywords and finally to the generic pool.
func (b *Builder) labelTopic(ctx context.Context, index int, topic *cluster.Topic) string {
	if b.relation != nil {
		raw, err := b.relation.Complete(ctx, labelSystemPrompt, labelPrompt(topic))
		if err != nil {
			slog.Warn("topic labeling failed, using keyword fallback", "topic", index, "error", err)
		} else if label, ok := parseLabel(raw); ok {
			return label
		} else {
			slog.Warn("unusable topic label from model", "topic", index, "raw", strutil.Truncate(raw, 80))
		}
	}

	if label := keywordLabel(topic.Keywords); label != "" {
		return label
	}
	return genericLabels[index%len(genericLabels)]
}

func labelPrompt(topic *cluster.Topic) string {
	var sb strings.Builder
	if len(topic.Keywords) > 0 {
		sb.WriteString("Keywords: ")
		sb.WriteString(strings.Join(topic.Keywords, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("Example texts:\n")
	texts := topic.MemberTexts
	if len(texts) == 0 && topic.RepresentativeText != "" {
		texts = []string{topic.RepresentativeText}
	}
	if len(texts) > labelMaxTexts {
		texts = texts[:labelMaxTexts]
	}
	for _, text := range texts {
		sb.WriteString("- ")
		sb.WriteString(strutil.Truncate(text, 200))
		sb.WriteString("\n")
	}
	return sb.String()
}

// keywordLabel synthesizes a label from the top keywords.
func keywordLabel(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	n := len(keywords)
	if n > labelMaxKeywords {
		n = labelMaxKeywords
	}
	label := strings.Join(keywords[:n], " · ")
	if len([]rune(label)) > labelMaxLen {
		label = keywords[0]
	}
	if len([]rune(label)) < labelMinLen || len([]rune(label)) > labelMaxLen {
		return ""
	}
	return label
}

// selectPairs picks which topic pairs get a relation query. Small graphs get
// every pair; larger ones get an evenly spaced sample.
func selectPairs(n int) [][2]int {
	var all [][2]int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			all = append(all, [2]int{i, j})
		}
	}
	if n <= allPairsMax || len(all) <= sampledPairsMax {
		return all
	}

	sampled := make([][2]int, 0, sampledPairsMax)
	stride := float64(len(all)) / float64(sampledPairsMax)
	for i := 0; i < sampledPairsMax; i++ {
		sampled = append(sampled, all[int(float64(i)*stride)])
	}
	return sampled
}

// relateTopics queries both directions for one pair and emits the resulting
// edges. Directions disagreeing is expected; both are kept, and the edge pair
// is bidirectional only when both directions are non-unrelated.
func (b *Builder) relateTopics(ctx context.Context, i, j int, topics []*cluster.Topic) []*Edge {
	forward, forwardReason := b.classify(ctx, topics[i], topics[j])
	backward, backwardReason := b.classify(ctx, topics[j], topics[i])

	bidirectional := forward != RelationUnrelated && backward != RelationUnrelated

	var edges []*Edge
	if forward != RelationUnrelated {
		edges = append(edges, newEdge(nodeID(i), nodeID(j), forward, forwardReason, bidirectional))
	}
	if backward != RelationUnrelated {
		edges = append(edges, newEdge(nodeID(j), nodeID(i), backward, backwardReason, bidirectional))
	}
	return edges
}

// classify asks for one directed relation judgement. Any failure, including
// unparseable output, resolves to the generic related edge: a noisy external
// formatter must not disconnect the graph.
func (b *Builder) classify(ctx context.Context, from, to *cluster.Topic) (Relation, string) {
	if b.relation == nil {
		return "", defaultEdgeReason
	}

	prompt := fmt.Sprintf("Topic A: %s (keywords: %s)\nTopic B: %s (keywords: %s)\nHow does A relate to B?",
		from.Label, strings.Join(from.Keywords, ", "),
		to.Label, strings.Join(to.Keywords, ", "),
	)

	raw, err := b.relation.Complete(ctx, relationSystemPrompt, prompt)
	if err != nil {
		slog.Warn("relation classification failed, using default edge", "error", err)
		return "", defaultEdgeReason
	}

	relation, reason, ok := parseRelation(raw)
	if !ok {
		slog.Warn("unparseable relation response, using default edge", "raw", strutil.Truncate(raw, 80))
		return "", defaultEdgeReason
	}
	if reason == "" {
		reason = defaultEdgeReason
	}
	return relation, reason
}

func newEdge(source, target string, relation Relation, reason string, bidirectional bool) *Edge {
	style, ok := edgeStyles[relation]
	if !ok {
		style = defaultEdgeStyle
	}
	return &Edge{
		Source:        source,
		Target:        target,
		Type:          style.Type,
		Value:         style.Value,
		Reason:        reason,
		Bidirectional: bidirectional,
	}
}

func nodeID(index int) string {
	return fmt.Sprintf("topic-%d", index)
}
