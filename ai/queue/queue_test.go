package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mindgraph/ai/aierr"
	"github.com/hrygo/mindgraph/store"
)

type fakeStore struct {
	mu         sync.Mutex
	memories   map[int64]*store.Memory
	embeddings map[int64]*store.MemoryEmbedding
	updates    []*store.UpdateMemory
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories:   make(map[int64]*store.Memory),
		embeddings: make(map[int64]*store.MemoryEmbedding),
	}
}

func (f *fakeStore) GetMemory(_ context.Context, id int64) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memories[id], nil
}

func (f *fakeStore) GetMemoryEmbedding(_ context.Context, memoryID int64, _ string) (*store.MemoryEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeddings[memoryID], nil
}

func (f *fakeStore) UpsertMemoryEmbedding(_ context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[embedding.MemoryID] = embedding
	return embedding, nil
}

func (f *fakeStore) UpdateMemory(_ context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	memory := f.memories[update.ID]
	if memory != nil && update.Keywords != nil {
		memory.Keywords = update.Keywords
	}
	return memory, nil
}

func (f *fakeStore) FindMemoriesWithoutEmbedding(_ context.Context, _ *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []*store.Memory
	for _, memory := range f.memories {
		if _, ok := f.embeddings[memory.ID]; !ok {
			list = append(list, memory)
		}
	}
	return list, nil
}

func (f *fakeStore) embeddingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embeddings)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	err   error
	calls int
	// wrongDim forces a vector of the wrong length
	wrongDim bool
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	dim := f.dim
	if f.wrongDim {
		dim = f.dim + 1
	}
	return make([]float32, dim), nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type passFilter struct{ allow bool }

func (p passFilter) ShouldEmbed(context.Context, string) bool { return p.allow }

func testConfig() *Config {
	cfg := DefaultConfig("test-model")
	cfg.SteadyBackoff = time.Millisecond
	cfg.DegradedBackoff = time.Millisecond
	cfg.ScanInterval = time.Hour
	return cfg
}

func addMemory(st *fakeStore, id int64, content string) {
	st.memories[id] = &store.Memory{ID: id, UserID: 1, Content: content}
}

func drain(s *Service) {
	for i := 0; i < 50; i++ {
		s.processNext(context.Background())
	}
}

func TestProcessEmbedsAndBackfillsKeywords(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "kubernetes cluster upgrade notes kubernetes etcd snapshots")

	embedder := &fakeEmbedder{dim: 4}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	assert.Equal(t, 1, st.embeddingCount())
	assert.Equal(t, "test-model", st.embeddings[1].Model)
	assert.NotEmpty(t, st.memories[1].Keywords, "keywords should be back-filled")
	assert.Zero(t, s.Stats().Pending)
}

func TestEnqueueIdempotent(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "some content that is long enough")

	embedder := &fakeEmbedder{dim: 4}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	require.NoError(t, s.Enqueue(context.Background(), 1))
	assert.Equal(t, 1, s.Stats().Pending)

	drain(s)
	assert.Equal(t, 1, embedder.callCount())
	assert.Equal(t, 1, st.embeddingCount())

	// Already embedded: enqueue becomes a no-op.
	require.NoError(t, s.Enqueue(context.Background(), 1))
	assert.Zero(t, s.Stats().Pending)
}

func TestFilteredContentNotEmbedded(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "ok")

	embedder := &fakeEmbedder{dim: 4}
	s := NewService(st, embedder, passFilter{allow: false}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	assert.Zero(t, embedder.callCount())
	assert.Zero(t, st.embeddingCount())
}

func TestRetryBoundThenFailedSet(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content")

	embedder := &fakeEmbedder{dim: 4, err: errors.New("request timeout")}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	stats := s.Stats()
	assert.Equal(t, 1, stats.FailedCount)
	assert.Contains(t, stats.FailedMemoryIDs, int64(1))
	assert.Equal(t, 3, embedder.callCount(), "exactly maxRetries attempts")

	// Failed items are not picked up again, by enqueue or by scan.
	require.NoError(t, s.Enqueue(context.Background(), 1))
	require.NoError(t, s.scan(context.Background()))
	assert.Zero(t, s.Stats().Pending)
}

func TestRetryFailedReenqueues(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content")

	embedder := &fakeEmbedder{dim: 4, err: errors.New("request timeout")}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)
	require.Equal(t, 1, s.Stats().FailedCount)

	embedder.mu.Lock()
	embedder.err = nil
	embedder.mu.Unlock()

	require.NoError(t, s.RetryFailed(context.Background(), 1))
	drain(s)

	assert.Zero(t, s.Stats().FailedCount)
	assert.Equal(t, 1, st.embeddingCount())
}

func TestDimensionMismatchFailsFast(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content")

	embedder := &fakeEmbedder{dim: 4, wrongDim: true}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	assert.Zero(t, st.embeddingCount(), "no write on dimension mismatch")
	assert.Equal(t, 1, embedder.callCount(), "validation errors are not retried")
	assert.Equal(t, 1, s.Stats().FailedCount)
}

func TestEmbedderValidationErrorFailsFast(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content")

	// The embedding client reports a wrong-sized provider response as a
	// validation error. The queue must park the item on the first attempt.
	embedder := &fakeEmbedder{dim: 4, err: aierr.NewValidation("embedding dimension mismatch: got 2, want 4")}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	assert.Zero(t, st.embeddingCount())
	assert.Equal(t, 1, embedder.callCount(), "no retries on a validation error")
	assert.Equal(t, 1, s.Stats().FailedCount)
	assert.Contains(t, s.Stats().FailedMemoryIDs, int64(1))
}

func TestCircuitBreakerTripsAndResets(t *testing.T) {
	st := newFakeStore()
	for i := int64(1); i <= 12; i++ {
		addMemory(st, i, "content")
	}

	embedder := &fakeEmbedder{dim: 4, err: errors.New("429 rate limit exceeded")}
	cfg := testConfig()
	cfg.Cooldown = 30 * time.Millisecond
	s := NewService(st, embedder, passFilter{allow: true}, nil, cfg)

	for i := int64(1); i <= 12; i++ {
		require.NoError(t, s.Enqueue(context.Background(), i))
	}

	for !s.coolingDown() {
		before := s.Stats()
		s.processNext(context.Background())
		if before.Pending == 0 {
			break
		}
	}

	stats := s.Stats()
	require.True(t, stats.BreakerOpen, "breaker must trip once apiErrorCount exceeds the threshold")
	assert.Greater(t, stats.APIErrorCount, 10)

	// While open, the worker does not dequeue.
	assert.True(t, s.coolingDown())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.coolingDown())
	assert.Zero(t, s.Stats().APIErrorCount, "error counter resets after cooldown")
}

func TestScanEnqueuesUnembedded(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content one")
	addMemory(st, 2, "content two")
	st.embeddings[2] = &store.MemoryEmbedding{MemoryID: 2, Model: "test-model"}

	embedder := &fakeEmbedder{dim: 4}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.scan(context.Background()))
	assert.Equal(t, 1, s.Stats().Pending)
}

func TestDeletedMemorySkipped(t *testing.T) {
	st := newFakeStore()

	embedder := &fakeEmbedder{dim: 4}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	s.push(99)
	drain(s)

	assert.Zero(t, embedder.callCount())
	assert.Zero(t, s.Stats().Pending)
	assert.Zero(t, s.Stats().FailedCount)
}

func TestTransientClassificationFeedsCounter(t *testing.T) {
	st := newFakeStore()
	addMemory(st, 1, "content")

	// Non-transient error: retried but never counted against the breaker.
	embedder := &fakeEmbedder{dim: 4, err: errors.New("database is on fire")}
	s := NewService(st, embedder, passFilter{allow: true}, nil, testConfig())

	require.NoError(t, s.Enqueue(context.Background(), 1))
	drain(s)

	assert.Zero(t, s.Stats().APIErrorCount)
	assert.False(t, s.Stats().BreakerOpen)
	// Sanity check that the error text really is classified as non-transient.
	assert.False(t, aierr.IsTransientProvider(aierr.NewProvider("embedding", errors.New("database is on fire"))))
}
