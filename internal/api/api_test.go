package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/api"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/executor"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/guardian"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/queuemanager"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/blockstorage"
)

func setupTestTimers() config.TimersConfig {
	return config.TimersConfig{
		SetupState:     time.Minute,
		LoadingState:   time.Minute,
		CompletedState: time.Minute,
		ExceptionState: time.Minute,
	}
}

// emptyTransport serves every bucket as empty.
type emptyTransport struct{}

func (emptyTransport) FetchObjects(ctx context.Context, bucket, prefix string) (<-chan storage.Object, <-chan error) {
	objCh := make(chan storage.Object)
	errCh := make(chan error, 1)
	close(objCh)
	close(errCh)
	return objCh, errCh
}

func (emptyTransport) PutObjects(ctx context.Context, bucket, prefix string, files map[string][]byte) error {
	return nil
}

// setupOnlyFactory builds an Executor whose only real collaborators are a
// staging registry and a block-storage worker over empty buckets: a started
// test finds no features directory and moves to Exception, so the Vault,
// Cucumber and Kafka collaborators are never reached.
func setupOnlyFactory(ctx context.Context, id model.TestID, notifier executor.Notifier) *executor.Executor {
	staging := storage.NewStaging()
	collab := executor.Collaborators{
		BlockStorage: blockstorage.New(emptyTransport{}, staging, "topic-directives.yaml"),
		Staging:      staging,
	}
	return executor.New(id, collab, notifier, setupTestTimers(), log.NewNopLogger())
}

func newTestGuardian(t *testing.T) (*guardian.Guardian, func()) {
	t.Helper()
	g := guardian.New(config.SupervisionConfig{MaxRestarts: 5, RestartTimeRange: time.Minute},
		func() *queuemanager.QueueManager { return queuemanager.New(setupOnlyFactory, log.NewNopLogger()) },
		log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Initialize(ctx)
	require.NoError(t, err)

	return g, func() {
		cancel()
		_ = g.Shutdown(context.Background())
	}
}

func newRouter(supervisor api.Supervisor) *mux.Router {
	router := mux.NewRouter()
	api.New(supervisor, log.NewNopLogger(), api.ConfigSnapshot{"storage.provider": "local"}).Register(router)
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitializeTestReturnsID(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/test/initialize", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["test-id"])
}

func TestStartTestUnknownIDReturns404(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	body := `{"test-id":"does-not-exist","block-storage-path":"file:///tmp/bundle"}`
	rec := doRequest(t, router, http.MethodPost, "/api/v1/test/start", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TestNotFound", resp["error"])
}

func TestStartTestMalformedJSONReturns400(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/test/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTestBadBucketURIReturns422(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/test/initialize", "")
	var init map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &init))

	body := `{"test-id":"` + init["test-id"] + `","block-storage-path":""}`
	rec = doRequest(t, router, http.MethodPost, "/api/v1/test/start", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStartTestAcceptedReturns202(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/test/initialize", "")
	var init map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &init))

	body := `{"test-id":"` + init["test-id"] + `","block-storage-path":"file:///tmp/bundle","test-type":"functional"}`
	rec = doRequest(t, router, http.MethodPost, "/api/v1/test/start", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["accepted"])
}

func TestTestStatusUnknownIDReturns404(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/test/does-not-exist/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueStatusBeforeInitializeReturns503(t *testing.T) {
	g := guardian.New(config.SupervisionConfig{MaxRestarts: 5, RestartTimeRange: time.Minute},
		func() *queuemanager.QueueManager { return queuemanager.New(setupOnlyFactory, log.NewNopLogger()) },
		log.NewNopLogger())
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/queue/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestQueueStatusReportsDegradedWithoutError(t *testing.T) {
	router := newRouter(degradedSupervisor{})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/queue/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["degraded"])
}

func TestHealthzAlwaysOK(t *testing.T) {
	router := newRouter(degradedSupervisor{})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsDegradedMode(t *testing.T) {
	router := newRouter(degradedSupervisor{})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelUnknownIDReturns404(t *testing.T) {
	g, cleanup := newTestGuardian(t)
	defer cleanup()
	router := newRouter(g)

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/test/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// degradedSupervisor stands in for a Guardian whose restart-budget circuit
// breaker has tripped open (§4.1): GetQueueActor always fails, Degraded
// always true.
type degradedSupervisor struct{}

func (degradedSupervisor) GetQueueActor() (*queuemanager.QueueManager, error) {
	return nil, errCircuitOpen
}
func (degradedSupervisor) Degraded() bool { return true }

var errCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "ServiceUnavailable: circuit breaker open" }
