// Package queue implements the durable embedding work queue: a single worker
// loop that pulls un-embedded memories, gates them through the content value
// filter, calls the embedding provider and persists results, with per-item
// retries and a global circuit breaker.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/mindgraph/ai/aierr"
	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/metrics"
	"github.com/hrygo/mindgraph/store"
)

// MemoryStore is the persistence surface the queue needs.
type MemoryStore interface {
	GetMemory(ctx context.Context, id int64) (*store.Memory, error)
	GetMemoryEmbedding(ctx context.Context, memoryID int64, model string) (*store.MemoryEmbedding, error)
	UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error)
	UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error)
	FindMemoriesWithoutEmbedding(ctx context.Context, find *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error)
}

// Embedder generates a vector for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ContentFilter gates content before an embedding call is spent on it.
type ContentFilter interface {
	ShouldEmbed(ctx context.Context, text string) bool
}

// Config holds the queue tuning knobs.
type Config struct {
	// Model is the embedding model name persisted with each vector.
	Model string
	// MaxRetries is the per-item retry bound before the item moves to the
	// failed set.
	MaxRetries int
	// ErrorThreshold is the transient error count that trips the breaker.
	ErrorThreshold int
	// Cooldown is how long the breaker stays open once tripped.
	Cooldown time.Duration
	// ScanInterval is the period of the self-healing un-embedded scan.
	ScanInterval time.Duration
	// ScanBatch bounds how many memories one scan enqueues.
	ScanBatch int
	// SteadyBackoff is the pause between dequeues in the healthy state.
	SteadyBackoff time.Duration
	// DegradedBackoff is the pause while transient errors are elevated.
	DegradedBackoff time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig(model string) *Config {
	return &Config{
		Model:           model,
		MaxRetries:      3,
		ErrorThreshold:  10,
		Cooldown:        5 * time.Minute,
		ScanInterval:    10 * time.Minute,
		ScanBatch:       100,
		SteadyBackoff:   5 * time.Second,
		DegradedBackoff: 30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Pending         int     `json:"pending"`
	Processing      bool    `json:"processing"`
	FailedCount     int     `json:"failedCount"`
	FailedMemoryIDs []int64 `json:"failedMemoryIds"`
	APIErrorCount   int     `json:"apiErrorCount"`
	BreakerOpen     bool    `json:"breakerOpen"`
	CooldownSeconds int64   `json:"cooldownSeconds"`
}

// Service is the embedding queue. One Service runs one worker goroutine;
// items are processed strictly one at a time so the per-memory "already
// embedded" check needs no locking against concurrent embeds.
type Service struct {
	store    MemoryStore
	embedder Embedder
	filter   ContentFilter
	exporter *metrics.PrometheusExporter
	cfg      *Config

	mu            sync.Mutex
	pending       []int64
	queued        map[int64]bool
	attempts      map[int64]int
	failed        map[int64]bool
	apiErrorCount int
	breakerUntil  time.Time
	processing    bool

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the embedding queue service. The exporter may be nil.
func NewService(st MemoryStore, embedder Embedder, filter ContentFilter, exporter *metrics.PrometheusExporter, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	return &Service{
		store:    st,
		embedder: embedder,
		filter:   filter,
		exporter: exporter,
		cfg:      cfg,
		queued:   make(map[int64]bool),
		attempts: make(map[int64]int),
		failed:   make(map[int64]bool),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the worker loop and the periodic self-healing scan. It runs
// one startup scan synchronously so a crash never strands un-embedded
// memories.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.scan(ctx); err != nil {
		slog.Warn("startup embedding scan failed", "error", err)
	}

	s.wg.Add(2)
	go s.workerLoop(ctx)
	go s.scanLoop(ctx)
}

// Stop halts the worker and scan loops and waits for them to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue adds a memory to the queue. It is idempotent: memories that are
// already queued, already embedded, or parked in the failed set are skipped.
func (s *Service) Enqueue(ctx context.Context, memoryID int64) error {
	s.mu.Lock()
	if s.queued[memoryID] || s.failed[memoryID] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	embedding, err := s.store.GetMemoryEmbedding(ctx, memoryID, s.cfg.Model)
	if err != nil {
		return err
	}
	if embedding != nil {
		return nil
	}

	s.push(memoryID)
	return nil
}

// RetryFailed removes a memory from the failed set and re-enqueues it. This
// is the explicit operator action required after the retry bound is hit.
func (s *Service) RetryFailed(ctx context.Context, memoryID int64) error {
	s.mu.Lock()
	delete(s.failed, memoryID)
	delete(s.attempts, memoryID)
	s.mu.Unlock()
	s.updateGauges()
	return s.Enqueue(ctx, memoryID)
}

// Stats returns a snapshot of queue state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	failedIDs := make([]int64, 0, len(s.failed))
	for id := range s.failed {
		failedIDs = append(failedIDs, id)
	}

	stats := Stats{
		Pending:         len(s.pending),
		Processing:      s.processing,
		FailedCount:     len(s.failed),
		FailedMemoryIDs: failedIDs,
		APIErrorCount:   s.apiErrorCount,
	}
	if remaining := time.Until(s.breakerUntil); remaining > 0 {
		stats.BreakerOpen = true
		stats.CooldownSeconds = int64(remaining.Seconds())
	}
	return stats
}

func (s *Service) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if !s.coolingDown() {
			s.processNext(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-time.After(s.backoff()):
		}
	}
}

func (s *Service) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.coolingDown() {
				continue
			}
			if err := s.scan(ctx); err != nil {
				slog.Warn("embedding scan failed", "error", err)
			}
		}
	}
}

// scan finds memories lacking embeddings and enqueues them. This is the
// self-healing path that recovers queue state after a crash.
func (s *Service) scan(ctx context.Context) error {
	memories, err := s.store.FindMemoriesWithoutEmbedding(ctx, &store.FindMemoriesWithoutEmbedding{
		Model: s.cfg.Model,
		Limit: s.cfg.ScanBatch,
	})
	if err != nil {
		return err
	}

	enqueued := 0
	for _, memory := range memories {
		s.mu.Lock()
		skip := s.queued[memory.ID] || s.failed[memory.ID]
		s.mu.Unlock()
		if skip {
			continue
		}
		s.push(memory.ID)
		enqueued++
	}

	if enqueued > 0 {
		slog.Info("embedding scan enqueued memories", "count", enqueued)
	}
	return nil
}

// processNext drains exactly one item from the head of the queue.
func (s *Service) processNext(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	memoryID := s.pending[0]
	s.pending = s.pending[1:]
	delete(s.queued, memoryID)
	s.processing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
		s.updateGauges()
	}()

	s.processMemory(ctx, memoryID)
}

func (s *Service) processMemory(ctx context.Context, memoryID int64) {
	memory, err := s.store.GetMemory(ctx, memoryID)
	if err != nil {
		slog.Warn("failed to load memory for embedding", "memory_id", memoryID, "error", err)
		s.recordFailure(memoryID, err)
		return
	}
	if memory == nil {
		// Deleted since enqueue.
		s.clearItem(memoryID)
		s.recordOutcome("skipped")
		return
	}

	existing, err := s.store.GetMemoryEmbedding(ctx, memoryID, s.cfg.Model)
	if err != nil {
		s.recordFailure(memoryID, err)
		return
	}
	if existing != nil {
		s.clearItem(memoryID)
		s.recordOutcome("skipped")
		return
	}

	if s.filter != nil && !s.filter.ShouldEmbed(ctx, memory.Content) {
		slog.Debug("memory rejected by content filter", "memory_id", memoryID)
		s.clearItem(memoryID)
		s.recordOutcome("filtered")
		return
	}

	start := time.Now()
	vector, err := s.embedder.Embed(ctx, memory.Content)
	if s.exporter != nil {
		s.exporter.RecordEmbedLatency(time.Since(start))
	}
	if err != nil {
		s.recordFailure(memoryID, err)
		return
	}

	if len(vector) != s.embedder.Dimensions() {
		s.recordFailure(memoryID,
			aierr.NewValidation("embedding dimension mismatch: got %d, want %d", len(vector), s.embedder.Dimensions()))
		return
	}

	if _, err := s.store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
		MemoryID:  memoryID,
		Model:     s.cfg.Model,
		Embedding: vector,
	}); err != nil {
		s.recordFailure(memoryID, err)
		return
	}

	s.backfillKeywords(ctx, memory)

	s.clearItem(memoryID)
	s.recordOutcome("done")
	slog.Debug("memory embedded", "memory_id", memoryID, "model", s.cfg.Model)
}

// backfillKeywords derives keyword tags from the content once the embedding
// exists. Best effort; failures only log.
func (s *Service) backfillKeywords(ctx context.Context, memory *store.Memory) {
	if len(memory.Keywords) > 0 {
		return
	}
	keywords := cluster.ExtractKeywords([]string{memory.Content}, 5)
	if len(keywords) == 0 {
		return
	}
	if _, err := s.store.UpdateMemory(ctx, &store.UpdateMemory{
		ID:       memory.ID,
		Keywords: keywords,
	}); err != nil {
		slog.Warn("failed to back-fill memory keywords", "memory_id", memory.ID, "error", err)
	}
}

// recordFailure applies the retry policy for one failed item. Transient
// provider errors feed the global breaker counter; validation errors fail
// fast into the failed set.
func (s *Service) recordFailure(memoryID int64, err error) {
	// Normalize raw errors so transience classification applies uniformly.
	var pe *aierr.ProviderError
	if !aierr.IsValidation(err) && !errors.As(err, &pe) {
		err = aierr.NewProvider("embed", err)
	}
	transient := aierr.IsTransientProvider(err)

	s.mu.Lock()
	if transient {
		s.apiErrorCount++
		if s.apiErrorCount > s.cfg.ErrorThreshold && time.Now().After(s.breakerUntil) {
			s.breakerUntil = time.Now().Add(s.cfg.Cooldown)
			slog.Warn("embedding circuit breaker tripped",
				"api_error_count", s.apiErrorCount,
				"cooldown", s.cfg.Cooldown,
			)
		}
	}

	if aierr.IsValidation(err) {
		s.failed[memoryID] = true
		delete(s.attempts, memoryID)
		s.mu.Unlock()
		if transient && s.exporter != nil {
			s.exporter.RecordAPIError()
		}
		s.recordOutcome("failed")
		slog.Warn("memory embedding failed validation", "memory_id", memoryID, "error", err)
		return
	}

	s.attempts[memoryID]++
	attempts := s.attempts[memoryID]
	retry := attempts < s.cfg.MaxRetries
	if !retry {
		s.failed[memoryID] = true
		delete(s.attempts, memoryID)
	}
	s.mu.Unlock()

	if transient && s.exporter != nil {
		s.exporter.RecordAPIError()
	}

	if retry {
		s.push(memoryID)
		s.recordOutcome("retried")
		slog.Warn("memory embedding failed, re-enqueued",
			"memory_id", memoryID,
			"attempts", attempts,
			"error", err,
		)
		return
	}

	s.recordOutcome("failed")
	slog.Error("memory embedding failed permanently, manual re-embed required",
		"memory_id", memoryID,
		"attempts", attempts,
		"error", err,
	)
}

// coolingDown reports whether the breaker is open. The transient error
// counter resets once the cooldown elapses.
func (s *Service) coolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.breakerUntil.IsZero() {
		return false
	}
	if time.Now().Before(s.breakerUntil) {
		if s.exporter != nil {
			s.exporter.SetBreakerOpen(true)
		}
		return true
	}

	// Cooldown elapsed: reset and resume.
	s.breakerUntil = time.Time{}
	s.apiErrorCount = 0
	if s.exporter != nil {
		s.exporter.SetBreakerOpen(false)
	}
	slog.Info("embedding circuit breaker cooldown elapsed, resuming")
	return false
}

// backoff picks the inter-dequeue pause, longer while transient errors are
// elevated.
func (s *Service) backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiErrorCount > 0 {
		return s.cfg.DegradedBackoff
	}
	return s.cfg.SteadyBackoff
}

// push appends a memory to the queue tail and wakes the worker.
func (s *Service) push(memoryID int64) {
	s.mu.Lock()
	if s.queued[memoryID] {
		s.mu.Unlock()
		return
	}
	s.queued[memoryID] = true
	s.pending = append(s.pending, memoryID)
	s.mu.Unlock()

	s.updateGauges()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// clearItem drops all retry bookkeeping for a memory.
func (s *Service) clearItem(memoryID int64) {
	s.mu.Lock()
	delete(s.attempts, memoryID)
	s.mu.Unlock()
}

func (s *Service) recordOutcome(outcome string) {
	if s.exporter != nil {
		s.exporter.RecordItemProcessed(outcome)
	}
}

func (s *Service) updateGauges() {
	if s.exporter == nil {
		return
	}
	s.mu.Lock()
	pending := len(s.pending)
	failed := len(s.failed)
	s.mu.Unlock()
	s.exporter.SetQueueDepth(pending)
	s.exporter.SetFailedItems(failed)
}
