// Package api implements the REST surface (§6.1): the only interface callers
// see. Handlers are plain http.HandlerFunc's registered on a *mux.Router, the
// same idiom as cmd/tempo/app/http_handler.go's muxWrapper and
// modules/backendscheduler.go's StatusHandler, generalized from a table
// renderer to JSON responses per §6.1/§6.2.
package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/queuemanager"
)

// json is tempo's own drop-in for encoding/json (cmd/tempo/app/modules.go's
// jsoniter.MarshalToString usage for its stats reporter), used here for every
// request/response body on the REST surface (§6.1).
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supervisor is the subset of Guardian the REST surface needs: a queue
// handle, or ActorSystemNotReady before Initialize has completed and
// ServiceUnavailable once the restart-budget circuit breaker has tripped
// open, plus the degraded flag surfaced through QueueStatus (§9 "Degraded
// mode").
type Supervisor interface {
	GetQueueActor() (*queuemanager.QueueManager, error)
	Degraded() bool
}

// ConfigSnapshot is a non-secret debug view of the running configuration,
// surfaced through QueueStatus's config-snapshot field (SPEC_FULL §C.5).
type ConfigSnapshot map[string]any

// Handlers wires the Supervisor to every endpoint in §6.1.
type Handlers struct {
	supervisor Supervisor
	logger     log.Logger
	snapshot   ConfigSnapshot
}

func New(supervisor Supervisor, logger log.Logger, snapshot ConfigSnapshot) *Handlers {
	return &Handlers{supervisor: supervisor, logger: logger, snapshot: snapshot}
}

// Register installs every route from §6.1 plus the supplemented operational
// endpoints (SPEC_FULL §C) onto router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/test/initialize", h.initializeTest).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/test/start", h.startTest).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/test/{testId}/status", h.testStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/test/{testId}", h.cancelTest).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/queue/status", h.queueStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/readyz", h.readyz).Methods(http.MethodGet)
}

// errorBody is the machine/human-readable failure envelope every non-2xx
// response carries (§7: "always carry a machine-readable error tag ... and a
// human-readable message").
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorKind(w http.ResponseWriter, err error) {
	ek, ok := errorkind.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: string(errorkind.ServiceUnavailable), Message: err.Error()})
		return
	}
	status := errorkind.HTTPStatus(ek.Kind)
	if status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorBody{Error: string(ek.Kind), Message: ek.Error()})
}

// queue resolves the live QueueManager or writes the §7
// ActorSystemNotReady/ServiceUnavailable response and returns ok=false.
func (h *Handlers) queue(w http.ResponseWriter) (*queuemanager.QueueManager, bool) {
	qm, err := h.supervisor.GetQueueActor()
	if err != nil {
		writeErrorKind(w, err)
		return nil, false
	}
	return qm, true
}

func (h *Handlers) initializeTest(w http.ResponseWriter, r *http.Request) {
	qm, ok := h.queue(w)
	if !ok {
		return
	}
	id := qm.InitializeTest()
	writeJSON(w, http.StatusOK, map[string]string{"test-id": string(id)})
}

type startTestRequest struct {
	TestID           model.TestID `json:"test-id"`
	BlockStoragePath string       `json:"block-storage-path"`
	TestType         string       `json:"test-type,omitempty"`
}

type startTestResponse struct {
	TestID   model.TestID `json:"test-id"`
	Accepted bool         `json:"accepted"`
	TestType *string      `json:"test-type,omitempty"`
	Message  string       `json:"message,omitempty"`
}

func (h *Handlers) startTest(w http.ResponseWriter, r *http.Request) {
	var req startTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		level.Warn(h.logger).Log("msg", "malformed start-test request", "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "MalformedRequest", Message: "request body is not valid JSON"})
		return
	}
	if req.TestID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: string(errorkind.InvalidTopicDirectiveFmt), Message: "test-id is required"})
		return
	}
	if _, err := parseBucketURI(req.BlockStoragePath); err != nil {
		writeErrorKind(w, err)
		return
	}

	qm, ok := h.queue(w)
	if !ok {
		return
	}

	result, err := qm.StartTest(req.TestID, req.BlockStoragePath, req.TestType)
	if err != nil {
		writeErrorKind(w, err)
		return
	}

	resp := startTestResponse{TestID: req.TestID, Accepted: result.Accepted, TestType: result.TestType, Message: result.Message}
	if result.Accepted {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

// parseBucketURI enforces §7's BucketUriParse: the path must at least parse
// as a URI. Interpretation of the scheme is left to the storage provider
// (§3.1: "Bucket ... opaque to the core").
func parseBucketURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errorkind.New(errorkind.BucketURIParse, "block-storage-path is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.BucketURIParse, "block-storage-path is not a valid URI", err)
	}
	return u, nil
}

type statusResponse struct {
	TestID       model.TestID `json:"test-id"`
	State        model.State  `json:"state"`
	Bucket       *string      `json:"bucket"`
	TestType     *string      `json:"test-type"`
	StartTime    *string      `json:"start-time"`
	EndTime      *string      `json:"end-time"`
	Success      *bool        `json:"success"`
	ErrorMessage *string      `json:"error"`
}

func toStatusResponse(snap model.StatusSnapshot) statusResponse {
	resp := statusResponse{
		TestID:       snap.TestID,
		State:        snap.State,
		Bucket:       snap.Bucket,
		TestType:     snap.TestType,
		Success:      snap.Success,
		ErrorMessage: snap.ErrorMessage,
	}
	if snap.StartTime != nil {
		s := snap.StartTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		resp.StartTime = &s
	}
	if snap.EndTime != nil {
		s := snap.EndTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		resp.EndTime = &s
	}
	return resp
}

func (h *Handlers) testStatus(w http.ResponseWriter, r *http.Request) {
	qm, ok := h.queue(w)
	if !ok {
		return
	}
	testID := model.TestID(mux.Vars(r)["testId"])
	snap, err := qm.TestStatus(testID)
	if err != nil {
		writeErrorKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(snap))
}

type queueStatusResponse struct {
	Counts           map[model.State]int `json:"counts"`
	CurrentlyTesting *model.TestID       `json:"currently-testing"`
	Degraded         bool                `json:"degraded"`
	ConfigSnapshot   ConfigSnapshot      `json:"config-snapshot,omitempty"`
}

func (h *Handlers) queueStatus(w http.ResponseWriter, r *http.Request) {
	degraded := h.supervisor.Degraded()
	qm, err := h.supervisor.GetQueueActor()
	if err != nil {
		if !degraded {
			writeErrorKind(w, err)
			return
		}
		// Degraded mode still answers QueueStatus (§9): admissions are
		// refused but existing state remains observable.
		writeJSON(w, http.StatusOK, queueStatusResponse{Counts: map[model.State]int{}, Degraded: true, ConfigSnapshot: h.snapshot})
		return
	}

	snap := qm.QueueStatus()
	writeJSON(w, http.StatusOK, queueStatusResponse{
		Counts:           snap.CountsByState,
		CurrentlyTesting: snap.CurrentTest,
		Degraded:         degraded,
		ConfigSnapshot:   h.snapshot,
	})
}

type cancelResponse struct {
	TestID    model.TestID `json:"test-id"`
	Cancelled bool         `json:"cancelled"`
	Message   string       `json:"message,omitempty"`
}

func (h *Handlers) cancelTest(w http.ResponseWriter, r *http.Request) {
	qm, ok := h.queue(w)
	if !ok {
		return
	}
	testID := model.TestID(mux.Vars(r)["testId"])
	result, err := qm.Cancel(testID)
	if err != nil {
		writeErrorKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{TestID: testID, Cancelled: result.Cancelled, Message: result.Reason})
}

// healthz is a liveness probe: the process is up and serving HTTP regardless
// of Guardian's state (SPEC_FULL §C.2).
func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz is a readiness probe: it reflects Guardian's degraded flag so a load
// balancer can stop sending admission traffic without killing the process
// (SPEC_FULL §C.2, §9 "Degraded mode").
func (h *Handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.supervisor.Degraded() {
		w.Header().Set("Retry-After", strconv.Itoa(5))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
		return
	}
	if _, err := h.supervisor.GetQueueActor(); err != nil {
		writeErrorKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
