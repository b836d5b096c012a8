package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/internal/application/graph"
	"github.com/aescanero/conduit/internal/application/orchestrator"
	"github.com/aescanero/conduit/internal/application/versions"
	"github.com/aescanero/conduit/pkg/adapters/audit"
	evmemory "github.com/aescanero/conduit/pkg/adapters/events/memory"
	"github.com/aescanero/conduit/pkg/adapters/executor"
	promcollector "github.com/aescanero/conduit/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/conduit/pkg/adapters/storage/memory"
	"github.com/aescanero/conduit/pkg/domain"
)

type testAPI struct {
	handler http.Handler
	audit   *audit.Recorder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	metrics := promcollector.NewCollector(reg)
	store := memory.NewStore()
	rec := audit.NewRecorder()

	svc := versions.NewService(store, graph.NewValidator(), rec, metrics, logger)
	m := orchestrator.NewManager(svc, store, evmemory.NewEventLog(), executor.NewRegistry(logger), nil, rec, metrics, logger,
		orchestrator.Options{Workers: 2, HealthCheckInterval: time.Hour})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	s := NewServer(&Config{Port: 0, Versions: svc, Runs: m, Gatherer: reg, Logger: logger})
	return &testAPI{handler: s.Handler(), audit: rec}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "alice")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func stageDoc(ids ...string) []map[string]any {
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = map[string]any{"stage_id": id, "name": id, "executor_ref": "builtin.uppercase"}
	}
	return out
}

func (a *testAPI) publish(t *testing.T, pipelineID string, spec map[string]any) domain.PipelineVersion {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/pipelines/"+pipelineID+"/versions", map[string]any{"spec": spec})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decode[domain.PipelineVersion](t, w)

	w = a.do(t, http.MethodPost, "/api/v1/pipelines/"+pipelineID+"/versions/"+v.ID+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(t, http.MethodPost, "/api/v1/pipelines/"+pipelineID+"/versions/"+v.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[domain.PipelineVersion](t, w)
}

func TestCreateVersion_ImplicitEdges(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions", map[string]any{
		"spec":           map[string]any{"name": "p", "stages": stageDoc("a", "b", "c")},
		"change_summary": "first",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	v := decode[domain.PipelineVersion](t, w)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, domain.VersionStatusDraft, v.Status)
	assert.Equal(t, "alice", v.CreatedBy)
	assert.Equal(t, []domain.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}}, v.Spec.Edges)
}

func TestCreateVersion_Errors(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions", map[string]any{
		"spec": map[string]any{"name": "p", "stages": stageDoc("a", "b"), "edges": []any{}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "INVALID_GRAPH", resp.Error.Code)
	assert.Equal(t, map[string]any{"reason": "multi_root_leaf"}, resp.Error.Details)

	stages := stageDoc("a")
	stages[0]["batch_size"] = -1
	w = api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions", map[string]any{
		"spec": map[string]any{"name": "p", "stages": stages},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_SPEC", decode[ErrorResponse](t, w).Error.Code)

	w = api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/pipelines/p/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["total"])
}

func TestVersionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions", map[string]any{
		"spec": map[string]any{"name": "p", "stages": stageDoc("a")},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	v := decode[domain.PipelineVersion](t, w)

	w = api.do(t, http.MethodPost, "/api/v1/pipelines/p/versions/"+v.ID+"/publish", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[ErrorResponse](t, w).Error.Code)

	w = api.do(t, http.MethodGet, "/api/v1/pipelines/other/versions/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	published := api.publish(t, "q", map[string]any{"name": "q", "stages": stageDoc("a")})
	assert.True(t, published.IsActive)
	assert.Equal(t, domain.VersionStatusPublished, published.Status)

	w = api.do(t, http.MethodPost, "/api/v1/pipelines/q/versions/"+published.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Contains(t, api.audit.Actions(), domain.AuditVersionPublish)
	for _, rec := range api.audit.Records() {
		assert.Equal(t, "alice", rec.Actor)
	}
}

func TestDiff(t *testing.T) {
	api := newTestAPI(t)
	v1 := api.publish(t, "p", map[string]any{"name": "p", "stages": stageDoc("a")})
	v2 := api.publish(t, "p", map[string]any{"name": "p", "stages": stageDoc("a", "b")})

	w := api.do(t, http.MethodGet, "/api/v1/pipelines/p/diff?from="+v1.ID+"&to="+v2.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[versions.SpecDiff](t, w)
	require.Len(t, d.StageChanges, 1)
	assert.Equal(t, "b", d.StageChanges[0].StageID)
	assert.Equal(t, versions.StageAdded, d.StageChanges[0].Change)

	w = api.do(t, http.MethodGet, "/api/v1/pipelines/p/diff?from="+v1.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/runs/trigger", map[string]any{"pipeline_id": "p"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_PUBLISHED_VERSION", decode[ErrorResponse](t, w).Error.Code)

	w = api.do(t, http.MethodPost, "/api/v1/runs/trigger", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.publish(t, "p", map[string]any{
		"name":   "p",
		"stages": stageDoc("a", "b"),
		"io":     map[string]any{"source": map[string]any{"kind": "inline", "static_data": []any{"x", "y"}}},
	})

	w = api.do(t, http.MethodPost, "/api/v1/runs/trigger", map[string]any{"pipeline_id": "p"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	run := decode[domain.Run](t, w)
	assert.Equal(t, domain.RunStatusQueued, run.Status)
	assert.Equal(t, "alice", run.InitiatedBy)

	require.Eventually(t, func() bool {
		w := api.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, nil)
		return w.Code == http.StatusOK && decode[domain.Run](t, w).Status == domain.RunStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	w = api.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/events?after=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[struct {
		Events []domain.RunEvent `json:"events"`
	}](t, w).Events
	require.NotEmpty(t, events)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, domain.EventTypeRunCompleted, events[len(events)-1].EventType)

	w = api.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/events?after=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/metrics-summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[domain.MetricsSummary](t, w)
	assert.Equal(t, 2, summary.InputCount)
	assert.Equal(t, 2, summary.OutputCount)
	assert.Len(t, summary.Stages, 2)

	w = api.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.RunStatusSucceeded, decode[domain.Run](t, w).Status)

	w = api.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/rerun", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	rerun := decode[domain.Run](t, w)
	assert.Equal(t, domain.TriggerTypeRerun, rerun.TriggerType)
	assert.Equal(t, run.ID, rerun.SourceRunID)

	w = api.do(t, http.MethodGet, "/api/v1/runs?pipeline_id=p&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Runs []domain.Run `json:"runs"`
	}](t, w).Runs
	require.Len(t, list, 1)
	assert.Equal(t, rerun.ID, list[0].ID)

	for _, path := range []string{"/api/v1/runs/missing", "/api/v1/runs/missing/events", "/api/v1/runs/missing/metrics-summary"} {
		w = api.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w = api.do(t, http.MethodPost, "/api/v1/runs/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])

	w = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conduit_")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewGraphError(domain.GraphReasonSelfLoop, "a", "loop"), http.StatusUnprocessableEntity, "INVALID_GRAPH"},
		{domain.ErrInvalidSpec, http.StatusUnprocessableEntity, "INVALID_SPEC"},
		{domain.ErrConcurrentPublish, http.StatusConflict, "CONCURRENT_PUBLISH"},
		{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{domain.ErrNoPublishedVersion, http.StatusNotFound, "NO_PUBLISHED_VERSION"},
		{domain.ErrRunNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrVersionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{context.Canceled, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
