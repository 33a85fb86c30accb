// Package queuemanager implements the QueueManager (§4.2): the single
// admission point that mints TestIds, spawns one TestExecutor per test,
// enforces the at-most-one-Testing invariant, and runs the FIFO scheduling
// algorithm. Like internal/executor, it is a single-goroutine mailbox actor
// wrapped as a dskit services.Service, the same idiom backendscheduler.go
// uses for its own `starting`/`running`/`stopping` wiring.
package queuemanager

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/executor"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// ExecutorFactory constructs a fresh TestExecutor for id. QueueManager is
// passed as the Notifier so every executor reports back to the same mailbox.
type ExecutorFactory func(ctx context.Context, id model.TestID, notifier executor.Notifier) *executor.Executor

// TestEntry is the QueueManager's own record per test (§3.2). State mirrors
// the executor's canonical state; authoritative terminal data (success,
// error, timing) always comes from the executor itself via Status, never
// duplicated here.
type TestEntry struct {
	TestID           model.TestID
	Executor         *executor.Executor
	State            model.State
	Bucket           *string
	TestType         *string
	StartRequestTime *time.Time
}

// QueueStatusSnapshot answers QueueStatus (§4.2, §6.1).
type QueueStatusSnapshot struct {
	CountsByState map[model.State]int
	CurrentTest   *model.TestID
}

// StartTestResult answers StartTest (§4.2).
type StartTestResult struct {
	Accepted bool
	TestType *string
	Message  string
}

// CancelResult answers Cancel (§4.2, §4.3).
type CancelResult struct {
	Cancelled bool
	Reason    string
}

// QueueManager is the root of the test-registry state machine (§3.4). All
// registry mutation happens inside running's single goroutine; external
// callers and executor notifications alike go through the mailbox.
type QueueManager struct {
	services.Service

	factory ExecutorFactory
	logger  log.Logger

	mailbox chan any
	stopped chan struct{}
	runCtx  context.Context

	testRegistry map[model.TestID]*TestEntry
	pendingQueue []model.TestID
	loadedSet    map[model.TestID]bool
	currentTest  *model.TestID
	stoppedSet   map[model.TestID]bool
}

func New(factory ExecutorFactory, logger log.Logger) *QueueManager {
	qm := &QueueManager{
		factory:      factory,
		logger:       logger,
		mailbox:      make(chan any, 256),
		stopped:      make(chan struct{}),
		testRegistry: make(map[model.TestID]*TestEntry),
		loadedSet:    make(map[model.TestID]bool),
		stoppedSet:   make(map[model.TestID]bool),
	}
	qm.Service = services.NewBasicService(nil, qm.running, qm.stopping)
	return qm
}

func (qm *QueueManager) running(ctx context.Context) error {
	defer close(qm.stopped)
	qm.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-qm.mailbox:
			qm.handle(msg)
		}
	}
}

func (qm *QueueManager) stopping(failureCase error) error {
	return failureCase
}

// post delivers a fire-and-forget message (used by executor notifications,
// which arrive from many executor goroutines concurrently).
func (qm *QueueManager) post(msg any) {
	select {
	case qm.mailbox <- msg:
	case <-qm.stopped:
	}
}

// external operation messages

type initializeTestMsg struct{ reply chan model.TestID }
type startTestMsg struct {
	testID   model.TestID
	bucket   string
	testType string
	reply    chan startTestReply
}
type startTestReply struct {
	result StartTestResult
	err    error
}
type testStatusMsg struct {
	testID model.TestID
	reply  chan testStatusReply
}
type testStatusReply struct {
	snapshot model.StatusSnapshot
	err      error
}
type queueStatusMsg struct{ reply chan QueueStatusSnapshot }
type cancelMsg struct {
	testID model.TestID
	reply  chan cancelReply
}
type cancelReply struct {
	result CancelResult
	err    error
}

// internal notification messages (executor.Notifier, fanned in from every
// running TestExecutor)

type testLoadingMsg struct{ id model.TestID }
type testLoadedMsg struct{ id model.TestID }
type testStartedMsg struct{ id model.TestID }
type testCompletedMsg struct {
	id     model.TestID
	result model.TestExecutionResult
}
type testExceptionMsg struct {
	id      model.TestID
	kind    errorkind.Kind
	message string
}
type testStoppingMsg struct{ id model.TestID }

// InitializeTest mints a TestId, spawns its TestExecutor in Setup, and
// returns the id (§4.2).
func (qm *QueueManager) InitializeTest() model.TestID {
	reply := make(chan model.TestID, 1)
	qm.mailbox <- initializeTestMsg{reply: reply}
	return <-reply
}

// StartTest admits testId for scheduling (§4.2). An unknown testId returns
// errorkind.TestNotFound without mutating any state (§4.2 "Unknown-target
// messages").
func (qm *QueueManager) StartTest(testID model.TestID, bucket, testType string) (StartTestResult, error) {
	reply := make(chan startTestReply, 1)
	qm.mailbox <- startTestMsg{testID: testID, bucket: bucket, testType: testType, reply: reply}
	r := <-reply
	return r.result, r.err
}

// TestStatus forwards to the named TestExecutor (§4.2).
func (qm *QueueManager) TestStatus(testID model.TestID) (model.StatusSnapshot, error) {
	reply := make(chan testStatusReply, 1)
	qm.mailbox <- testStatusMsg{testID: testID, reply: reply}
	r := <-reply
	return r.snapshot, r.err
}

// QueueStatus answers locally from the registry (§4.2).
func (qm *QueueManager) QueueStatus() QueueStatusSnapshot {
	reply := make(chan QueueStatusSnapshot, 1)
	qm.mailbox <- queueStatusMsg{reply: reply}
	return <-reply
}

// Cancel forwards to the named TestExecutor (§4.2, §4.3).
func (qm *QueueManager) Cancel(testID model.TestID) (CancelResult, error) {
	reply := make(chan cancelReply, 1)
	qm.mailbox <- cancelMsg{testID: testID, reply: reply}
	r := <-reply
	return r.result, r.err
}

// executor.Notifier implementation — every call here runs on the reporting
// executor's own goroutine and only ever touches the mailbox.

func (qm *QueueManager) TestLoading(id model.TestID)   { qm.post(testLoadingMsg{id: id}) }
func (qm *QueueManager) TestLoaded(id model.TestID)    { qm.post(testLoadedMsg{id: id}) }
func (qm *QueueManager) TestStarted(id model.TestID)   { qm.post(testStartedMsg{id: id}) }
func (qm *QueueManager) TestStopping(id model.TestID)  { qm.post(testStoppingMsg{id: id}) }
func (qm *QueueManager) TestCompleted(id model.TestID, result model.TestExecutionResult) {
	qm.post(testCompletedMsg{id: id, result: result})
}
func (qm *QueueManager) TestException(id model.TestID, kind errorkind.Kind, message string) {
	qm.post(testExceptionMsg{id: id, kind: kind, message: message})
}

func (qm *QueueManager) handle(msg any) {
	switch m := msg.(type) {
	case initializeTestMsg:
		m.reply <- qm.onInitializeTest()
	case startTestMsg:
		result, err := qm.onStartTest(m.testID, m.bucket, m.testType)
		m.reply <- startTestReply{result: result, err: err}
	case testStatusMsg:
		snap, err := qm.onTestStatus(m.testID)
		m.reply <- testStatusReply{snapshot: snap, err: err}
	case queueStatusMsg:
		m.reply <- qm.onQueueStatus()
	case cancelMsg:
		result, err := qm.onCancel(m.testID)
		m.reply <- cancelReply{result: result, err: err}
	case testLoadingMsg:
		qm.onTestLoading(m.id)
	case testLoadedMsg:
		qm.onTestLoaded(m.id)
	case testStartedMsg:
		qm.onTestStarted(m.id)
	case testCompletedMsg:
		qm.onTestCompleted(m.id)
	case testExceptionMsg:
		qm.onTestException(m.id)
	case testStoppingMsg:
		qm.onTestStopping(m.id)
	default:
		level.Warn(qm.logger).Log("msg", "unrecognized queuemanager message")
	}
}

func (qm *QueueManager) onInitializeTest() model.TestID {
	id := model.TestID(uuid.New().String())
	ex := qm.factory(qm.runCtx, id, qm)
	if err := ex.StartAsync(qm.runCtx); err != nil {
		level.Error(qm.logger).Log("msg", "failed to start test executor", "testId", id, "err", err)
	}
	qm.testRegistry[id] = &TestEntry{TestID: id, Executor: ex, State: model.StateSetup}
	level.Info(qm.logger).Log("msg", "test initialized", "testId", id)
	return id
}

func (qm *QueueManager) onStartTest(testID model.TestID, bucket, testType string) (StartTestResult, error) {
	entry, ok := qm.testRegistry[testID]
	if !ok {
		level.Warn(qm.logger).Log("msg", "StartTest for unknown test", "testId", testID)
		return StartTestResult{}, errorkind.New(errorkind.TestNotFound, "unknown testId")
	}

	reply := entry.Executor.StartTest(bucket, testType)
	if !reply.Accepted {
		return StartTestResult{Accepted: false, Message: "test is not in Setup"}, nil
	}

	now := time.Now()
	entry.Bucket = &bucket
	if testType != "" {
		entry.TestType = &testType
	}
	entry.StartRequestTime = &now
	qm.pendingQueue = append(qm.pendingQueue, testID)

	qm.runScheduling()

	result := StartTestResult{Accepted: true}
	if entry.TestType != nil {
		result.TestType = entry.TestType
	}
	return result, nil
}

func (qm *QueueManager) onTestStatus(testID model.TestID) (model.StatusSnapshot, error) {
	entry, ok := qm.testRegistry[testID]
	if !ok {
		level.Warn(qm.logger).Log("msg", "TestStatus for unknown test", "testId", testID)
		return model.StatusSnapshot{}, errorkind.New(errorkind.TestNotFound, "unknown testId")
	}
	return entry.Executor.Status(), nil
}

func (qm *QueueManager) onQueueStatus() QueueStatusSnapshot {
	counts := make(map[model.State]int)
	for _, entry := range qm.testRegistry {
		counts[entry.State]++
	}
	snap := QueueStatusSnapshot{CountsByState: counts}
	if qm.currentTest != nil {
		id := *qm.currentTest
		snap.CurrentTest = &id
	}
	return snap
}

func (qm *QueueManager) onCancel(testID model.TestID) (CancelResult, error) {
	entry, ok := qm.testRegistry[testID]
	if !ok {
		level.Warn(qm.logger).Log("msg", "Cancel for unknown test", "testId", testID)
		return CancelResult{}, errorkind.New(errorkind.TestNotFound, "unknown testId")
	}
	reply := entry.Executor.Cancel()
	return CancelResult{Cancelled: reply.Cancelled, Reason: reply.Reason}, nil
}

func (qm *QueueManager) onTestLoading(id model.TestID) {
	if entry, ok := qm.testRegistry[id]; ok {
		entry.State = model.StateLoading
	}
}

func (qm *QueueManager) onTestLoaded(id model.TestID) {
	entry, ok := qm.testRegistry[id]
	if !ok {
		return
	}
	entry.State = model.StateLoaded
	qm.loadedSet[id] = true
	qm.runScheduling()
}

func (qm *QueueManager) onTestStarted(id model.TestID) {
	if entry, ok := qm.testRegistry[id]; ok {
		entry.State = model.StateTesting
	}
}

func (qm *QueueManager) onTestCompleted(id model.TestID) {
	entry, ok := qm.testRegistry[id]
	if !ok {
		return
	}
	entry.State = model.StateCompleted
	if qm.currentTest != nil && *qm.currentTest == id {
		qm.currentTest = nil
	}
	qm.runScheduling()
}

func (qm *QueueManager) onTestException(id model.TestID) {
	entry, ok := qm.testRegistry[id]
	if !ok {
		return
	}
	entry.State = model.StateException
	if qm.currentTest != nil && *qm.currentTest == id {
		qm.currentTest = nil
	}
	qm.runScheduling()
}

// onTestStopping is the only place a test leaves the registry (§4.2 cleanup).
func (qm *QueueManager) onTestStopping(id model.TestID) {
	if _, ok := qm.testRegistry[id]; !ok {
		return
	}
	delete(qm.testRegistry, id)
	qm.pendingQueue = removeFromSlice(qm.pendingQueue, id)
	delete(qm.loadedSet, id)
	if qm.currentTest != nil && *qm.currentTest == id {
		qm.currentTest = nil
	}
	qm.stoppedSet[id] = true
	qm.runScheduling()
}

// runScheduling implements §4.2's scheduling algorithm: at most one Testing
// test at a time, FIFO among those that are Loaded.
func (qm *QueueManager) runScheduling() {
	if qm.currentTest != nil {
		return
	}
	for i, id := range qm.pendingQueue {
		if !qm.loadedSet[id] {
			continue
		}
		entry, ok := qm.testRegistry[id]
		if !ok {
			continue
		}
		qm.pendingQueue = append(append([]model.TestID{}, qm.pendingQueue[:i]...), qm.pendingQueue[i+1:]...)
		delete(qm.loadedSet, id)
		qm.currentTest = &id
		entry.Executor.StartTesting()
		return
	}
}

func removeFromSlice(s []model.TestID, id model.TestID) []model.TestID {
	out := make([]model.TestID, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
