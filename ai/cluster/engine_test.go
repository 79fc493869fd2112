package cluster

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mindgraph/store"
)

type fakeStore struct {
	memories   []*store.Memory
	embeddings []*store.MemoryEmbedding
}

func (f *fakeStore) ListMemories(context.Context, *store.FindMemory) ([]*store.Memory, error) {
	return f.memories, nil
}

func (f *fakeStore) ListMemoryEmbeddings(context.Context, *store.FindMemoryEmbedding) ([]*store.MemoryEmbedding, error) {
	return f.embeddings, nil
}

func (f *fakeStore) add(id int64, content string, vector []float32) {
	f.memories = append(f.memories, &store.Memory{ID: id, UserID: 1, Content: content})
	f.embeddings = append(f.embeddings, &store.MemoryEmbedding{MemoryID: id, Model: "m", Embedding: vector})
}

func TestClusterBelowFloorReturnsEmpty(t *testing.T) {
	st := &fakeStore{}
	for i := int64(1); i <= 4; i++ {
		st.add(i, "text", []float32{1, 0, 0})
	}

	result, err := NewEngine(st, "m").Cluster(context.Background(), 1)

	require.NoError(t, err)
	assert.Empty(t, result.Topics)
}

func TestClusterTwoObviousGroups(t *testing.T) {
	st := &fakeStore{}
	// Two tight groups along orthogonal axes.
	st.add(1, "golang channels and goroutines", []float32{1, 0.05, 0})
	st.add(2, "golang interfaces and generics", []float32{1, 0.02, 0})
	st.add(3, "golang error wrapping patterns", []float32{1, 0, 0.04})
	st.add(4, "sourdough starter feeding schedule", []float32{0, 1, 0.03})
	st.add(5, "sourdough hydration experiments", []float32{0.02, 1, 0})
	st.add(6, "sourdough oven spring tricks", []float32{0, 1, 0.01})

	result, err := NewEngine(st, "m").Cluster(context.Background(), 1)
	require.NoError(t, err)

	// Every memory must land in exactly one topic.
	total := 0
	seen := map[int64]bool{}
	for _, topic := range result.Topics {
		require.NotEmpty(t, topic.MemberMemoryIDs)
		for _, id := range topic.MemberMemoryIDs {
			assert.False(t, seen[id], "memory %d assigned twice", id)
			seen[id] = true
		}
		total += len(topic.MemberMemoryIDs)
		assert.Contains(t, topic.MemberMemoryIDs, topic.RepresentativeMemoryID)
		assert.NotEmpty(t, topic.RepresentativeText)
	}
	assert.Equal(t, 6, total)
	require.NotEmpty(t, result.Topics)

	// The two axis groups must not be mixed into one topic.
	for _, topic := range result.Topics {
		var golang, sourdough bool
		for _, id := range topic.MemberMemoryIDs {
			if id <= 3 {
				golang = true
			} else {
				sourdough = true
			}
		}
		assert.False(t, golang && sourdough, "orthogonal groups merged: %v", topic.MemberMemoryIDs)
	}
}

func TestClusterDeterministic(t *testing.T) {
	st := &fakeStore{}
	for i := int64(1); i <= 20; i++ {
		vec := []float32{float32(i % 4), float32(i % 3), float32(i % 5), 1}
		st.add(i, fmt.Sprintf("memory number %d", i), vec)
	}

	engine := NewEngine(st, "m")
	first, err := engine.Cluster(context.Background(), 1)
	require.NoError(t, err)
	second, err := engine.Cluster(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, len(first.Topics), len(second.Topics))
	for i := range first.Topics {
		assert.Equal(t, first.Topics[i].MemberMemoryIDs, second.Topics[i].MemberMemoryIDs)
	}
}

func TestClusterKeywordsExcludeStopwords(t *testing.T) {
	st := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		st.add(i, "the kubernetes cluster and the kubernetes nodes", []float32{1, 0})
	}

	result, err := NewEngine(st, "m").Cluster(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, result.Topics)

	keywords := result.Topics[0].Keywords
	assert.Contains(t, keywords, "kubernetes")
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "and")
}

func TestOptimalClusterCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{5, 2},
		{6, 2},
		{9, 3},
		{10, 3},
		{29, 4},
		{30, 4},
		{90, 6},
		{100, 5},
		{600, 20},
		{10000, 40},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, optimalClusterCount(tt.n), "n=%d", tt.n)
	}
}

func TestExtractKeywordsOrdering(t *testing.T) {
	got := ExtractKeywords([]string{
		"postgres postgres postgres replication replication backup",
	}, 2)
	assert.Equal(t, []string{"postgres", "replication"}, got)
}

func TestExtractKeywordsEmpty(t *testing.T) {
	assert.Nil(t, ExtractKeywords([]string{"a an it"}, 5))
	assert.Nil(t, ExtractKeywords(nil, 5))
}
