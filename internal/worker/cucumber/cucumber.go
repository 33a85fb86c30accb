// Package cucumber defines the CucumberWorker contract to the TestExecutor
// (§4.6). Running a Cucumber feature suite against a live Kafka topic is an
// external collaborator's concern (Non-goals, §1); this package owns only
// the handoff shape, not a Gherkin engine.
package cucumber

import (
	"context"
	"io/fs"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// Runner drives one test's feature suite to completion. featureFiles is
// read-only staged storage scoped to the test (§4.8); directives carries the
// already-wired producer/consumer security material for every topic the
// suite touches.
type Runner interface {
	Run(ctx context.Context, featureFiles fs.FS, directives []model.KafkaSecurityDirective) (model.TestExecutionResult, error)
}

// Worker is the TestExecutor's handle onto a Runner. It reports readiness
// once constructed — the runner implementation itself owns any connection
// setup it needs before Run is called.
type Worker struct {
	runner Runner
}

func New(runner Runner) *Worker {
	return &Worker{runner: runner}
}

// StartTest runs the suite and classifies the result: a run that completes
// with scenario failures is a *value* (CucumberFailure-adjacent, §7's
// distinction between "test failed" and "worker failed"), not an error.
// Only a runner-internal fault returns a non-nil error.
func (w *Worker) StartTest(ctx context.Context, featureFiles fs.FS, directives []model.KafkaSecurityDirective) (model.TestExecutionResult, error) {
	result, err := w.runner.Run(ctx, featureFiles, directives)
	if err != nil {
		return model.TestExecutionResult{}, errorkind.Wrap(errorkind.ServiceUnavailable, "running cucumber suite", err)
	}
	return result, nil
}
