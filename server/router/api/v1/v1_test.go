package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/graph"
	"github.com/hrygo/mindgraph/ai/queue"
	"github.com/hrygo/mindgraph/internal/profile"
	"github.com/hrygo/mindgraph/store"
)

type fakeMemoryStore struct {
	nextID  int64
	created []*store.Memory
	err     error
}

func (f *fakeMemoryStore) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	created := &store.Memory{
		ID:        f.nextID,
		UID:       "uid-1",
		UserID:    create.UserID,
		Content:   create.Content,
		Type:      create.Type,
		CreatedTs: 1700000000,
	}
	f.created = append(f.created, created)
	return created, nil
}

func (f *fakeMemoryStore) GetMemory(_ context.Context, id int64) (*store.Memory, error) {
	for _, m := range f.created {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

type fakeQueue struct {
	enqueued []int64
	retried  []int64
	stats    queue.Stats
}

func (f *fakeQueue) Enqueue(_ context.Context, memoryID int64) error {
	f.enqueued = append(f.enqueued, memoryID)
	return nil
}

func (f *fakeQueue) RetryFailed(_ context.Context, memoryID int64) error {
	f.retried = append(f.retried, memoryID)
	return nil
}

func (f *fakeQueue) Stats() queue.Stats { return f.stats }

type fakeKnowledge struct {
	graph    *graph.Graph
	clusters *cluster.Result
	similar  []*store.MemoryWithScore
	err      error

	lastRefresh bool
	lastLimit   int
}

func (f *fakeKnowledge) GetKnowledgeGraph(_ context.Context, _ int32, refresh bool) (*graph.Graph, error) {
	f.lastRefresh = refresh
	return f.graph, f.err
}

func (f *fakeKnowledge) GetClusters(_ context.Context, _ int32) (*cluster.Result, error) {
	return f.clusters, f.err
}

func (f *fakeKnowledge) FindSimilarMemories(_ context.Context, _ int32, _ string, limit int) ([]*store.MemoryWithScore, error) {
	f.lastLimit = limit
	return f.similar, f.err
}

func newTestService() (*APIV1Service, *fakeMemoryStore, *fakeQueue, *fakeKnowledge) {
	st := &fakeMemoryStore{}
	q := &fakeQueue{}
	k := &fakeKnowledge{
		graph:    &graph.Graph{Nodes: []*graph.Node{}, Links: []*graph.Edge{}, Version: 3},
		clusters: &cluster.Result{Topics: []*cluster.Topic{}},
	}
	svc := NewAPIV1Service(&profile.Profile{Mode: "dev"}, st, q, k)
	return svc, st, q, k
}

func doRequest(svc *APIV1Service, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	svc.Register(e)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateMemoryEnqueuesEmbedding(t *testing.T) {
	svc, st, q, _ := newTestService()

	rec := doRequest(svc, http.MethodPost, "/api/v1/memories",
		`{"userId": 1, "content": "learned about pgvector today", "type": "note"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp CreateMemoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	require.Len(t, st.created, 1)
	assert.Equal(t, "note", st.created[0].Type)
	assert.Equal(t, []int64{1}, q.enqueued)
}

func TestCreateMemoryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"content": "hello world"}`},
		{"empty content", `{"userId": 1, "content": "   "}`},
		{"bad type", `{"userId": 1, "content": "hello", "type": "banana"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, q, _ := newTestService()
			rec := doRequest(svc, http.MethodPost, "/api/v1/memories", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, st.created)
			assert.Empty(t, q.enqueued)
		})
	}
}

func TestCreateMemoryDefaultsType(t *testing.T) {
	svc, st, _, _ := newTestService()

	rec := doRequest(svc, http.MethodPost, "/api/v1/memories",
		`{"userId": 1, "content": "no type given"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, st.created, 1)
	assert.Equal(t, "note", st.created[0].Type)
}

func TestGetKnowledgeGraphSetsCacheControl(t *testing.T) {
	svc, _, _, k := newTestService()

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/graph", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "max-age=60", rec.Header().Get("Cache-Control"))
	assert.False(t, k.lastRefresh)

	var g graph.Graph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, int64(3), g.Version)
}

func TestGetKnowledgeGraphRefreshFlag(t *testing.T) {
	svc, _, _, k := newTestService()

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/graph?refresh=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, k.lastRefresh)
}

func TestGetKnowledgeGraphInvalidUser(t *testing.T) {
	svc, _, _, _ := newTestService()

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/abc/graph", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindSimilarMemories(t *testing.T) {
	svc, _, _, k := newTestService()
	k.similar = []*store.MemoryWithScore{
		{Memory: &store.Memory{ID: 7, Content: "pgvector indexing notes", Type: "note"}, Score: 0.88},
	}

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/memories/similar?q=vector+search", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp FindSimilarMemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Memories, 1)
	assert.Equal(t, int64(7), resp.Memories[0].ID)
	assert.Equal(t, defaultSearchLimit, k.lastLimit)
}

func TestFindSimilarMemoriesRequiresQuery(t *testing.T) {
	svc, _, _, _ := newTestService()

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/memories/similar", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFindSimilarMemoriesClampsLimit(t *testing.T) {
	svc, _, _, k := newTestService()

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/memories/similar?q=x&limit=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxSearchLimit, k.lastLimit)
}

func TestGetQueueStats(t *testing.T) {
	svc, _, q, _ := newTestService()
	q.stats = queue.Stats{Pending: 4, FailedCount: 1, FailedMemoryIDs: []int64{12}, APIErrorCount: 2}

	rec := doRequest(svc, http.MethodGet, "/api/v1/queue/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, []int64{12}, stats.FailedMemoryIDs)
}

func TestReembedMemory(t *testing.T) {
	svc, _, q, _ := newTestService()

	rec := doRequest(svc, http.MethodPost, "/api/v1/admin/reembed/42", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{42}, q.retried)
}

func TestAIRoutesUnavailableWithoutConfig(t *testing.T) {
	st := &fakeMemoryStore{}
	svc := NewAPIV1Service(&profile.Profile{Mode: "dev"}, st, nil, nil)

	rec := doRequest(svc, http.MethodGet, "/api/v1/users/1/graph", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Ingestion still works; the periodic scan embeds later.
	rec = doRequest(svc, http.MethodPost, "/api/v1/memories", `{"userId": 1, "content": "still stored"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, st.created, 1)
}
