// Package executor implements the TestExecutor: the per-test seven-state
// finite-state machine that drives one test from Setup through to
// ShuttingDown (§4.3), generalized from backendscheduler's per-job status
// transitions (`work.Job.UpdateJob`) into a dedicated single-goroutine actor
// with its own mailbox, wrapped as a dskit services.Service the same way
// `modules/backendscheduler.New` wires up `starting`/`running`/`stopping`.
package executor

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/blockstorage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/consumer"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/cucumber"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/producer"
	vaultworker "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/vault"
)

// Notifier is how an Executor reports state transitions to its owner (the
// QueueManager), mirroring the internal operations named in §4.2
// (TestLoading, TestLoaded, TestStarted, TestCompleted, TestException,
// TestStopping). TestInitialized has no observable effect on scheduling, so
// it isn't modeled as a callback — New succeeding is that event.
type Notifier interface {
	TestLoading(id model.TestID)
	TestLoaded(id model.TestID)
	TestStarted(id model.TestID)
	TestCompleted(id model.TestID, result model.TestExecutionResult)
	TestException(id model.TestID, kind errorkind.Kind, message string)
	TestStopping(id model.TestID)
}

// StartTestReply is returned synchronously from StartTest.
type StartTestReply struct {
	Accepted bool
	Err      error
}

// CancelReply is returned synchronously from Cancel (§4.3 cancellation semantics).
type CancelReply struct {
	Cancelled bool
	Reason    string
}

// Collaborators bundles every child an Executor drives to completion (§4.6).
type Collaborators struct {
	BlockStorage        *blockstorage.Worker
	Vault               *vaultworker.Worker
	CucumberRunner      cucumber.Runner
	Staging             *storage.Staging
	BootstrapServers    []string
	ConsumerGroupPrefix string
	Registerer          prometheus.Registerer
}

// Executor is a single-goroutine actor: all state is owned by the goroutine
// running the embedded services.Service's RunningFn, and every external
// interaction goes through the mailbox. Wrapping it as a dskit service gives
// the QueueManager the same StartAsync/AwaitRunning/StopAsync lifecycle it
// already uses for every other long-lived component (§4.10).
type Executor struct {
	services.Service

	id       model.TestID
	collab   Collaborators
	notifier Notifier
	timers   config.TimersConfig
	logger   log.Logger

	mailbox chan any
	stopped chan struct{}

	state            model.State
	bucket           string
	testType         string
	startRequestTime time.Time
	startTime        *time.Time
	endTime          *time.Time
	success          *bool
	errMessage       *string

	bsd        model.BlockStorageDirective
	directives []model.KafkaSecurityDirective
	result     model.TestExecutionResult

	expected map[string]bool
	ready    map[string]bool

	producers map[string]*producer.Worker
	consumers map[string]*consumer.Worker

	uploading bool
	armTimer  func(time.Duration)
}

func New(id model.TestID, collab Collaborators, notifier Notifier, timers config.TimersConfig, logger log.Logger) *Executor {
	e := &Executor{
		id:        id,
		collab:    collab,
		notifier:  notifier,
		timers:    timers,
		logger:    log.With(logger, "testId", string(id)),
		mailbox:   make(chan any, 16),
		stopped:   make(chan struct{}),
		state:     model.StateSetup,
		expected:  map[string]bool{"blockstorage": true, "vault": true, "cucumber": true},
		ready:     map[string]bool{},
		producers: map[string]*producer.Worker{},
		consumers: map[string]*consumer.Worker{},
	}
	e.Service = services.NewBasicService(nil, e.running, e.stopping)
	return e
}

// internal mailbox message types

type startTestMsg struct {
	bucket, testType string
	reply            chan StartTestReply
}
type startTestingMsg struct{}
type statusMsg struct{ reply chan model.StatusSnapshot }
type cancelMsg struct{ reply chan CancelReply }

type bsdReadyMsg struct{ bsd model.BlockStorageDirective }
type directivesReadyMsg struct{ directives []model.KafkaSecurityDirective }
type producerReadyMsg struct {
	topic  string
	worker *producer.Worker
}
type consumerReadyMsg struct {
	topic  string
	worker *consumer.Worker
}
type childExceptionMsg struct {
	name string
	kind errorkind.Kind
	err  error
}
type testCompleteMsg struct{ result model.TestExecutionResult }
type uploadCompleteMsg struct{}
type uploadFailureMsg struct{ err error }

// StartTest requests the Setup -> Loading transition (§4.2/§4.3).
func (e *Executor) StartTest(bucket, testType string) StartTestReply {
	reply := make(chan StartTestReply, 1)
	e.mailbox <- startTestMsg{bucket: bucket, testType: testType, reply: reply}
	return <-reply
}

// StartTesting requests the Loaded -> Testing transition; only the
// QueueManager's scheduling algorithm sends this (§4.2 step 4).
func (e *Executor) StartTesting() {
	e.mailbox <- startTestingMsg{}
}

func (e *Executor) Status() model.StatusSnapshot {
	reply := make(chan model.StatusSnapshot, 1)
	e.mailbox <- statusMsg{reply: reply}
	return <-reply
}

func (e *Executor) Cancel() CancelReply {
	reply := make(chan CancelReply, 1)
	e.mailbox <- cancelMsg{reply: reply}
	return <-reply
}

func (e *Executor) post(msg any) {
	select {
	case e.mailbox <- msg:
	case <-e.stopped:
	}
}

// running is the dskit RunningFn: it drives the FSM until ShuttingDown. ctx
// cancellation (StopAsync or the parent service context) forces an immediate
// (unclean) shutdown.
func (e *Executor) running(ctx context.Context) error {
	defer close(e.stopped)

	var timer *time.Timer
	e.armTimer = func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		if d <= 0 {
			timer = nil
			return
		}
		timer = time.NewTimer(d)
	}

	e.enterSetup()

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			e.enterShuttingDown(ctx, "context cancelled")
			return nil
		case <-timerC:
			if e.handleTimeout(ctx) {
				return nil
			}
		case msg := <-e.mailbox:
			if e.handle(ctx, msg) {
				return nil
			}
		}
	}
}

// stopping is the dskit StoppingFn. Every cleanup action (closing child
// workers, releasing the staging namespace) already happens inside
// enterShuttingDown as the FSM reaches its terminal state, so there's nothing
// left to do here beyond satisfying the services.Service contract.
func (e *Executor) stopping(failureCase error) error {
	return failureCase
}

func (e *Executor) handle(ctx context.Context, msg any) (terminal bool) {
	switch m := msg.(type) {
	case startTestMsg:
		return e.onStartTest(ctx, m)
	case startTestingMsg:
		return e.onStartTesting(ctx)
	case statusMsg:
		m.reply <- e.snapshot()
		return false
	case cancelMsg:
		return e.onCancel(ctx, m)
	case bsdReadyMsg:
		return e.onBsdReady(ctx, m.bsd)
	case directivesReadyMsg:
		return e.onDirectivesReady(ctx, m.directives)
	case producerReadyMsg:
		e.producers[m.topic] = m.worker
		e.markReady(ctx, "producer:"+m.topic)
		return false
	case consumerReadyMsg:
		e.consumers[m.topic] = m.worker
		e.markReady(ctx, "consumer:"+m.topic)
		return false
	case childExceptionMsg:
		return e.onChildException(ctx, m)
	case testCompleteMsg:
		return e.onTestComplete(ctx, m.result)
	case uploadCompleteMsg:
		return e.onUploadComplete(ctx)
	case uploadFailureMsg:
		return e.onUploadFailure(ctx, m.err)
	default:
		level.Warn(e.logger).Log("msg", "unrecognized executor message", "type", fmt.Sprintf("%T", msg))
		return false
	}
}
