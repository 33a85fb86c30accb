package executor

import (
	"context"
	"time"

	"github.com/go-kit/log/level"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

func (e *Executor) enterSetup() {
	e.state = model.StateSetup
	e.armTimer(e.timers.SetupState)
	level.Info(e.logger).Log("msg", "test entered Setup")
}

func (e *Executor) onStartTest(ctx context.Context, m startTestMsg) bool {
	switch e.state {
	case model.StateSetup:
		e.bucket = m.bucket
		e.testType = m.testType
		e.startRequestTime = time.Now()
		m.reply <- StartTestReply{Accepted: true}
		e.enterLoading(ctx)
		return false
	default:
		m.reply <- StartTestReply{Accepted: false}
		return false
	}
}

func (e *Executor) enterLoading(ctx context.Context) {
	e.state = model.StateLoading
	e.armTimer(e.timers.LoadingState)
	e.notifier.TestLoading(e.id)
	level.Info(e.logger).Log("msg", "test entered Loading")

	// Cucumber readiness is immediate in this design: the runner is a
	// pre-constructed collaborator, not something that dials out here.
	e.markReady(ctx, "cucumber")

	go func() {
		bsd, err := e.collab.BlockStorage.Fetch(ctx, e.id, e.bucket)
		if err != nil {
			ek, _ := errorkind.As(err)
			kind := errorkind.ServiceUnavailable
			if ek != nil {
				kind = ek.Kind
			}
			e.post(childExceptionMsg{name: "blockstorage", kind: kind, err: err})
			return
		}
		e.post(bsdReadyMsg{bsd: bsd})
	}()
}

func (e *Executor) onBsdReady(ctx context.Context, bsd model.BlockStorageDirective) bool {
	if e.state != model.StateLoading {
		return false
	}
	e.bsd = bsd
	e.markReady(ctx, "blockstorage")

	for _, td := range bsd.TopicDirectives {
		switch td.Role {
		case model.RoleProducer:
			e.expected["producer:"+td.Topic] = true
		case model.RoleConsumer:
			e.expected["consumer:"+td.Topic] = true
		}
	}

	go func() {
		directives, err := e.collab.Vault.FetchSecurityDirectives(ctx, bsd)
		if err != nil {
			ek, _ := errorkind.As(err)
			kind := errorkind.ServiceUnavailable
			if ek != nil {
				kind = ek.Kind
			}
			e.post(childExceptionMsg{name: "vault", kind: kind, err: err})
			return
		}
		e.post(directivesReadyMsg{directives: directives})
	}()

	return false
}

func (e *Executor) onDirectivesReady(ctx context.Context, directives []model.KafkaSecurityDirective) bool {
	if e.state != model.StateLoading {
		return false
	}
	e.directives = directives
	e.markReady(ctx, "vault")

	byTopic := make(map[string]model.KafkaSecurityDirective, len(directives))
	for _, d := range directives {
		byTopic[d.Topic] = d
	}

	for _, td := range e.bsd.TopicDirectives {
		td := td
		directive := byTopic[td.Topic]
		switch td.Role {
		case model.RoleProducer:
			go func() {
				w, err := newProducerWorker(e.collab, directive)
				if err != nil {
					e.post(childExceptionMsg{name: "producer:" + td.Topic, kind: errorkind.FatalBooting, err: err})
					return
				}
				e.post(producerReadyMsg{topic: td.Topic, worker: w})
			}()
		case model.RoleConsumer:
			go func() {
				w, err := newConsumerWorker(e.collab, e.id, directive)
				if err != nil {
					e.post(childExceptionMsg{name: "consumer:" + td.Topic, kind: errorkind.FatalBooting, err: err})
					return
				}
				e.post(consumerReadyMsg{topic: td.Topic, worker: w})
			}()
		}
	}

	return false
}

func (e *Executor) markReady(ctx context.Context, name string) {
	e.ready[name] = true
	if e.state == model.StateLoading && e.allReady() {
		e.enterLoaded(ctx)
	}
}

func (e *Executor) allReady() bool {
	if len(e.ready) < len(e.expected) {
		return false
	}
	for name := range e.expected {
		if !e.ready[name] {
			return false
		}
	}
	return true
}

func (e *Executor) enterLoaded(ctx context.Context) {
	e.state = model.StateLoaded
	e.armTimer(0)
	e.notifier.TestLoaded(e.id)
	level.Info(e.logger).Log("msg", "test entered Loaded")
}

func (e *Executor) onStartTesting(ctx context.Context) bool {
	if e.state != model.StateLoaded {
		level.Debug(e.logger).Log("msg", "StartTesting ignored outside Loaded", "state", e.state)
		return false
	}
	e.enterTesting(ctx)
	return false
}

func (e *Executor) enterTesting(ctx context.Context) {
	e.state = model.StateTesting
	e.armTimer(0)
	now := time.Now()
	e.startTime = &now
	e.notifier.TestStarted(e.id)
	level.Info(e.logger).Log("msg", "test entered Testing")

	ns := e.collab.Staging.Acquire(e.id)
	runner := e.collab.CucumberRunner
	directives := e.directives

	go func() {
		result, err := runner.Run(ctx, ns, directives)
		if err != nil {
			e.post(childExceptionMsg{name: "cucumber", kind: errorkind.KindOf(err), err: err})
			return
		}
		e.post(testCompleteMsg{result: result})
	}()
}

func (e *Executor) onTestComplete(ctx context.Context, result model.TestExecutionResult) bool {
	if e.state != model.StateTesting {
		return false
	}
	e.result = result
	e.enterUploadWait(ctx)
	return false
}

// enterUploadWait is the internal upload phase between Testing and Completed
// (§4.3's "upload-wait" row). It is not one of the seven externally reported
// states: a Status query during this phase still reports Testing, since the
// test run itself already finished and only evidence upload remains.
func (e *Executor) enterUploadWait(ctx context.Context) {
	e.uploading = true
	bucket, id := e.bucket, e.id

	go func() {
		if err := e.collab.BlockStorage.Upload(ctx, id, bucket); err != nil {
			e.post(uploadFailureMsg{err: err})
			return
		}
		e.post(uploadCompleteMsg{})
	}()
}

func (e *Executor) onUploadComplete(ctx context.Context) bool {
	if !e.uploading {
		return false
	}
	e.uploading = false
	success := e.result.Passed
	e.success = &success
	e.enterCompleted(ctx)
	return false
}

func (e *Executor) onUploadFailure(ctx context.Context, err error) bool {
	if !e.uploading {
		return false
	}
	e.uploading = false
	e.enterException(ctx, errorkind.KindOf(err), err.Error())
	return false
}

func (e *Executor) enterCompleted(ctx context.Context) {
	e.state = model.StateCompleted
	now := time.Now()
	e.endTime = &now
	e.armTimer(e.timers.CompletedState)
	e.notifier.TestCompleted(e.id, e.result)
	level.Info(e.logger).Log("msg", "test entered Completed", "passed", e.result.Passed)
}

func (e *Executor) enterException(ctx context.Context, kind errorkind.Kind, message string) {
	e.state = model.StateException
	now := time.Now()
	e.endTime = &now
	success := false
	e.success = &success
	e.errMessage = &message
	e.armTimer(e.timers.ExceptionState)
	e.notifier.TestException(e.id, kind, message)
	level.Warn(e.logger).Log("msg", "test entered Exception", "kind", kind, "err", message)
}

func (e *Executor) onChildException(ctx context.Context, m childExceptionMsg) bool {
	switch e.state {
	case model.StateLoading, model.StateTesting:
		e.enterException(ctx, m.kind, m.err.Error())
		return false
	default:
		level.Debug(e.logger).Log("msg", "child exception ignored in terminal/shutting-down state", "child", m.name)
		return false
	}
}

func (e *Executor) onCancel(ctx context.Context, m cancelMsg) bool {
	switch e.state {
	case model.StateSetup, model.StateLoading, model.StateLoaded:
		m.reply <- CancelReply{Cancelled: true}
		e.enterShuttingDown(ctx, "cancelled")
		return true
	default:
		m.reply <- CancelReply{Cancelled: false, Reason: "test is past the cancellable window (state " + string(e.state) + ")"}
		return false
	}
}

func (e *Executor) handleTimeout(ctx context.Context) bool {
	switch e.state {
	case model.StateSetup, model.StateLoading:
		e.enterShuttingDown(ctx, "timed out in "+string(e.state))
		return true
	case model.StateCompleted, model.StateException:
		e.enterShuttingDown(ctx, "cleanup timer elapsed")
		return true
	default:
		return false
	}
}

func (e *Executor) enterShuttingDown(ctx context.Context, reason string) {
	e.state = model.StateShuttingDown
	e.armTimer(0)
	for _, p := range e.producers {
		p.Close()
	}
	for _, c := range e.consumers {
		c.Close()
	}
	e.collab.Staging.Release(e.id)
	e.notifier.TestStopping(e.id)
	level.Info(e.logger).Log("msg", "test entered ShuttingDown", "reason", reason)
}

func (e *Executor) snapshot() model.StatusSnapshot {
	snap := model.StatusSnapshot{TestID: e.id, State: e.state}
	if e.bucket != "" {
		bucket := e.bucket
		snap.Bucket = &bucket
	}
	if e.testType != "" {
		testType := e.testType
		snap.TestType = &testType
	}
	if e.startTime != nil {
		snap.StartTime = e.startTime
	}
	if e.endTime != nil {
		snap.EndTime = e.endTime
	}
	if e.success != nil {
		snap.Success = e.success
	}
	if e.errMessage != nil {
		snap.ErrorMessage = e.errMessage
	}
	return snap
}
