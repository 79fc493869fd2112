package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mindgraph/ai/cluster"
)

type scriptedRelation struct {
	// labels are returned for label prompts, relations for pair prompts.
	label     string
	relations []string
	err       error
	calls     int
}

func (s *scriptedRelation) Complete(_ context.Context, system, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if strings.Contains(system, "name topics") {
		return s.label, nil
	}
	if len(s.relations) == 0 {
		return "unrelated", nil
	}
	next := s.relations[0]
	if len(s.relations) > 1 {
		s.relations = s.relations[1:]
	}
	return next, nil
}

func topicsFixture(n int) []*cluster.Topic {
	topics := make([]*cluster.Topic, n)
	for i := range topics {
		topics[i] = &cluster.Topic{
			ID:                 i,
			MemberMemoryIDs:    []int64{int64(i*10 + 1), int64(i*10 + 2)},
			MemberTexts:        []string{"notes about kubernetes deployments"},
			Keywords:           []string{"kubernetes", "deployments", "nodes"},
			RepresentativeText: "notes about kubernetes deployments",
		}
	}
	return topics
}

func TestBuildLabelsFromModel(t *testing.T) {
	relation := &scriptedRelation{label: "Kubernetes Operations", relations: []string{"similar\nreason: both cover cluster ops"}}
	b := NewBuilder(relation)

	graph := b.Build(context.Background(), topicsFixture(2))

	require.Len(t, graph.Nodes, 2)
	assert.Equal(t, "Kubernetes Operations", graph.Nodes[0].Label)
	assert.Equal(t, 2, graph.Nodes[0].Size)
	assert.NotEmpty(t, graph.Nodes[0].Color)
}

func TestBuildLabelFallbackToKeywords(t *testing.T) {
	tests := []struct {
		name  string
		label string
	}{
		{name: "empty response", label: ""},
		{name: "error marker", label: "Sorry, I cannot name this topic"},
		{name: "too long", label: strings.Repeat("x", 80)},
		{name: "too short", label: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(&scriptedRelation{label: tt.label})
			graph := b.Build(context.Background(), topicsFixture(1))
			require.Len(t, graph.Nodes, 1)
			assert.Equal(t, "kubernetes · deployments · nodes", graph.Nodes[0].Label)
		})
	}
}

func TestBuildLabelGenericPoolWhenNoKeywords(t *testing.T) {
	topics := topicsFixture(2)
	for _, topic := range topics {
		topic.Keywords = nil
	}
	b := NewBuilder(&scriptedRelation{label: ""})

	graph := b.Build(context.Background(), topics)

	for i, node := range graph.Nodes {
		assert.Equal(t, genericLabels[i%len(genericLabels)], node.Label)
		assert.NotContains(t, node.Label, "Cluster")
	}
}

func TestBuildEdgesFromEnum(t *testing.T) {
	relation := &scriptedRelation{
		label:     "Topic Label",
		relations: []string{"contains\nreason: A covers B", "references\nreason: B cites A"},
	}
	b := NewBuilder(relation)

	graph := b.Build(context.Background(), topicsFixture(2))

	require.Len(t, graph.Links, 2)
	assert.Equal(t, "contains", graph.Links[0].Type)
	assert.Equal(t, 4, graph.Links[0].Value)
	assert.Equal(t, "A covers B", graph.Links[0].Reason)
	assert.True(t, graph.Links[0].Bidirectional)
	assert.Equal(t, "references", graph.Links[1].Type)
	assert.True(t, graph.Links[1].Bidirectional)
}

func TestBuildUnrelatedDropsDirection(t *testing.T) {
	relation := &scriptedRelation{
		label:     "Topic Label",
		relations: []string{"similar", "unrelated"},
	}
	b := NewBuilder(relation)

	graph := b.Build(context.Background(), topicsFixture(2))

	require.Len(t, graph.Links, 1)
	assert.Equal(t, "similar", graph.Links[0].Type)
	assert.False(t, graph.Links[0].Bidirectional, "one unrelated direction disables bidirectional")
}

func TestBuildUnparseableDefaultsToRelated(t *testing.T) {
	relation := &scriptedRelation{
		label:     "Topic Label",
		relations: []string{"hmm, these feel intertwined somehow", "no idea honestly"},
	}
	b := NewBuilder(relation)

	graph := b.Build(context.Background(), topicsFixture(2))

	require.Len(t, graph.Links, 2)
	for _, edge := range graph.Links {
		assert.Equal(t, "related", edge.Type)
		assert.Equal(t, defaultEdgeStyle.Value, edge.Value)
		assert.Equal(t, defaultEdgeReason, edge.Reason)
	}
}

func TestBuildSurvivesProviderFailure(t *testing.T) {
	b := NewBuilder(&scriptedRelation{err: errors.New("503 service unavailable")})

	graph := b.Build(context.Background(), topicsFixture(3))

	require.Len(t, graph.Nodes, 3)
	// Labels fall back to keywords; every pair still gets default edges.
	assert.Equal(t, "kubernetes · deployments · nodes", graph.Nodes[0].Label)
	assert.NotEmpty(t, graph.Links)
	for _, edge := range graph.Links {
		assert.Equal(t, "related", edge.Type)
	}
}

func TestSelectPairs(t *testing.T) {
	assert.Len(t, selectPairs(2), 1)
	assert.Len(t, selectPairs(5), 10, "small graphs evaluate every pair")
	assert.Len(t, selectPairs(8), sampledPairsMax, "large graphs cap external calls")

	// Sampling is deterministic.
	assert.Equal(t, selectPairs(8), selectPairs(8))
}

func TestParseRelationScanOrder(t *testing.T) {
	relation, _, ok := parseRelation("these two are unrelated")
	require.True(t, ok)
	assert.Equal(t, RelationUnrelated, relation)

	relation, reason, ok := parseRelation("Contains.\nreason: the first subsumes the second")
	require.True(t, ok)
	assert.Equal(t, RelationContains, relation)
	assert.Equal(t, "the first subsumes the second", reason)
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{raw: "Home Automation", want: "Home Automation", wantOK: true},
		{raw: `"Cooking Notes"`, want: "Cooking Notes", wantOK: true},
		{raw: "Label: Woodworking\nextra line", want: "Woodworking", wantOK: true},
		{raw: "x", wantOK: false},
		{raw: "", wantOK: false},
		{raw: "I'm sorry, I can't help with that", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := parseLabel(tt.raw)
		assert.Equal(t, tt.wantOK, ok, "raw=%q", tt.raw)
		if tt.wantOK {
			assert.Equal(t, tt.want, got)
		}
	}
}
