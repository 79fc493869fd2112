// Package cluster groups a user's memory embeddings into topic clusters
// using centroid-based clustering over normalized vectors.
package cluster

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/hrygo/mindgraph/store"
)

const (
	// MinMemories is the clustering floor. Below it the engine returns an
	// empty result: too little data is "no signal", not an error.
	MinMemories = 5

	maxIterations = 300
	maxClusters   = 40
	topicKeywords = 5
)

// Topic is one cluster of a user's memories. Topics are ephemeral: every
// clustering run recomputes them from scratch, superseded topics are
// discarded rather than mutated.
type Topic struct {
	ID                     int       `json:"id"`
	Label                  string    `json:"label"`
	Centroid               []float32 `json:"-"`
	MemberMemoryIDs        []int64   `json:"memberMemoryIds"`
	MemberTexts            []string  `json:"-"`
	Keywords               []string  `json:"keywords"`
	RepresentativeMemoryID int64     `json:"representativeMemoryId"`
	RepresentativeText     string    `json:"representativeText"`
}

// Result is the output of one clustering run.
type Result struct {
	Topics []*Topic `json:"topics"`
}

// Store is the persistence surface the engine reads from.
type Store interface {
	ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error)
	ListMemoryEmbeddings(ctx context.Context, find *store.FindMemoryEmbedding) ([]*store.MemoryEmbedding, error)
}

// Engine computes topic clusters for one user at a time. It is stateless and
// safe for concurrent use across users.
type Engine struct {
	store Store
	model string
}

// NewEngine creates a cluster engine reading embeddings for the given model.
func NewEngine(st Store, model string) *Engine {
	return &Engine{store: st, model: model}
}

// Cluster groups the user's embedded memories into topics. Fewer than
// MinMemories embedded memories yields an empty result, never an error.
func (e *Engine) Cluster(ctx context.Context, userID int32) (*Result, error) {
	embeddings, err := e.store.ListMemoryEmbeddings(ctx, &store.FindMemoryEmbedding{
		UserID: &userID,
		Model:  &e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(embeddings) < MinMemories {
		slog.Debug("too few embedded memories for clustering",
			"user_id", userID,
			"count", len(embeddings),
		)
		return &Result{Topics: []*Topic{}}, nil
	}

	memories, err := e.store.ListMemories(ctx, &store.FindMemory{UserID: &userID})
	if err != nil {
		return nil, err
	}
	contentByID := make(map[int64]string, len(memories))
	for _, memory := range memories {
		contentByID[memory.ID] = memory.Content
	}

	// Deterministic input order: sort by memory ID.
	sort.Slice(embeddings, func(i, j int) bool {
		return embeddings[i].MemoryID < embeddings[j].MemoryID
	})

	ids := make([]int64, len(embeddings))
	vectors := make([][]float32, len(embeddings))
	for i, embedding := range embeddings {
		ids[i] = embedding.MemoryID
		vectors[i] = normalize(embedding.Embedding)
	}

	k := optimalClusterCount(len(vectors))
	assignments, centroids := kmeans(vectors, k)

	topics := buildTopics(ids, vectors, assignments, centroids, contentByID)

	for _, topic := range topics {
		slog.Debug("cluster share",
			"user_id", userID,
			"topic", topic.ID,
			"members", len(topic.MemberMemoryIDs),
			"share_pct", 100*len(topic.MemberMemoryIDs)/len(vectors),
		)
	}
	slog.Info("clustering complete",
		"user_id", userID,
		"memories", len(vectors),
		"topics", len(topics),
	)
	return &Result{Topics: topics}, nil
}

// optimalClusterCount derives k from the data volume.
func optimalClusterCount(n int) int {
	var k int
	switch {
	case n < 10:
		k = max(2, n/3)
	case n < 30:
		k = max(3, n/6)
	case n < 100:
		k = max(4, n/15)
	default:
		k = max(5, n/30)
	}
	if k > maxClusters {
		k = maxClusters
	}
	if k > n {
		k = n
	}
	return k
}

// kmeans clusters normalized vectors into at most k groups. Initial
// centroids are picked at evenly spaced indices of the ID-sorted input, so
// the same embedding set always produces the same clusters. Returned
// centroid indices may be fewer than k when clusters empty out during
// iteration.
func kmeans(vectors [][]float32, k int) ([]int, [][]float32) {
	n := len(vectors)
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), vectors[i*n/k]...)
	}

	assignments := make([]int, n)
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, vec := range vectors {
			best := nearestCentroid(vec, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		// Recompute centroids; drop clusters that emptied out.
		counts := make([]int, len(centroids))
		sums := make([][]float64, len(centroids))
		for c := range sums {
			sums[c] = make([]float64, len(vectors[0]))
		}
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for d, v := range vec {
				sums[c][d] += float64(v)
			}
		}

		kept := make([][]float32, 0, len(centroids))
		remap := make([]int, len(centroids))
		for c := range centroids {
			if counts[c] == 0 {
				remap[c] = -1
				continue
			}
			mean := make([]float32, len(sums[c]))
			for d := range sums[c] {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
			remap[c] = len(kept)
			kept = append(kept, normalize(mean))
		}
		if len(kept) < len(centroids) {
			centroids = kept
			for i := range assignments {
				assignments[i] = remap[assignments[i]]
			}
			continue
		}
		centroids = kept

		if !changed {
			break
		}
	}

	return assignments, centroids
}

// nearestCentroid returns the index of the closest centroid by cosine
// similarity. Ties break toward the lowest index.
func nearestCentroid(vec []float32, centroids [][]float32) int {
	best, bestScore := 0, float32(math.Inf(-1))
	for c, centroid := range centroids {
		score := dot(vec, centroid)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func buildTopics(ids []int64, vectors [][]float32, assignments []int, centroids [][]float32, contentByID map[int64]string) []*Topic {
	topics := make([]*Topic, 0, len(centroids))
	for c, centroid := range centroids {
		topic := &Topic{ID: c, Centroid: centroid}

		var texts []string
		bestScore := float32(math.Inf(-1))
		for i, assignment := range assignments {
			if assignment != c {
				continue
			}
			topic.MemberMemoryIDs = append(topic.MemberMemoryIDs, ids[i])
			texts = append(texts, contentByID[ids[i]])

			if score := dot(vectors[i], centroid); score > bestScore {
				bestScore = score
				topic.RepresentativeMemoryID = ids[i]
				topic.RepresentativeText = contentByID[ids[i]]
			}
		}
		if len(topic.MemberMemoryIDs) == 0 {
			continue
		}

		topic.MemberTexts = texts
		topic.Keywords = ExtractKeywords(texts, topicKeywords)
		topics = append(topics, topic)
	}

	// Renumber after dropping empties.
	for i, topic := range topics {
		topic.ID = i
	}
	return topics
}

// normalize returns the unit-length copy of v. Zero vectors pass through
// unchanged.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	inv := 1 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
