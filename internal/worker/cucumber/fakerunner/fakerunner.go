// Package fakerunner is an in-process stand-in for a real Cucumber/Gherkin
// engine (none appears anywhere in the reference pack), sufficient to drive
// cucumber.Worker and the TestExecutor FSM end-to-end in tests without a
// Kafka-protocol-aware step catalogue (Non-goals, §1).
package fakerunner

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// Runner parses ".feature" files under "features/" with a trivial Gherkin
// subset (Scenario: / Given / When / Then / And) and resolves each step's
// outcome by exact-text lookup in StepOutcomes. A step absent from the map
// is Undefined; once a scenario hits a failed or undefined step, its
// remaining steps are Skipped.
type Runner struct {
	StepOutcomes map[string]bool
}

func New(stepOutcomes map[string]bool) *Runner {
	return &Runner{StepOutcomes: stepOutcomes}
}

type scenarioResult struct {
	name    string
	passed  bool
	steps   int
	passedN int
	failedN int
	skipped int
	undef   int
}

func (r *Runner) Run(ctx context.Context, featureFiles fs.FS, _ []model.KafkaSecurityDirective) (model.TestExecutionResult, error) {
	start := time.Now()

	entries, err := fs.Glob(featureFiles, "features/*.feature")
	if err != nil {
		return model.TestExecutionResult{}, fmt.Errorf("fakerunner: globbing feature files: %w", err)
	}

	var scenarios []scenarioResult
	for _, path := range entries {
		if err := ctx.Err(); err != nil {
			return model.TestExecutionResult{}, err
		}
		f, err := featureFiles.Open(path)
		if err != nil {
			return model.TestExecutionResult{}, fmt.Errorf("fakerunner: opening %s: %w", path, err)
		}
		fileScenarios, err := r.runFeature(f)
		f.Close()
		if err != nil {
			return model.TestExecutionResult{}, fmt.Errorf("fakerunner: running %s: %w", path, err)
		}
		scenarios = append(scenarios, fileScenarios...)
	}

	result := model.TestExecutionResult{DurationMs: time.Since(start).Milliseconds()}
	result.Passed = true
	for _, s := range scenarios {
		result.StepsPassed += s.passedN
		result.StepsFailed += s.failedN
		result.StepsSkipped += s.skipped
		result.StepsUndefined += s.undef
		if s.passed {
			result.ScenariosPassed++
			continue
		}
		result.Passed = false
		result.FailedScenarioNames = append(result.FailedScenarioNames, s.name)
		if s.undef > 0 && s.failedN == 0 {
			result.ScenariosUndefined++
		} else {
			result.ScenariosFailed++
		}
	}
	if !result.Passed && result.ErrorMessage == "" {
		result.ErrorMessage = fmt.Sprintf("%d of %d scenarios failed", len(result.FailedScenarioNames), len(scenarios))
	}
	return result, nil
}

func (r *Runner) runFeature(f fs.File) ([]scenarioResult, error) {
	var scenarios []scenarioResult
	var current *scenarioResult
	var blocked bool

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Scenario:"):
			if current != nil {
				scenarios = append(scenarios, *current)
			}
			name := strings.TrimSpace(strings.TrimPrefix(line, "Scenario:"))
			current = &scenarioResult{name: name, passed: true}
			blocked = false
		case isStepLine(line):
			if current == nil {
				continue
			}
			current.steps++
			step := stepText(line)
			if blocked {
				current.skipped++
				continue
			}
			outcome, known := r.StepOutcomes[step]
			switch {
			case !known:
				current.undef++
				current.passed = false
				blocked = true
			case outcome:
				current.passedN++
			default:
				current.failedN++
				current.passed = false
				blocked = true
			}
		}
	}
	if current != nil {
		scenarios = append(scenarios, *current)
	}
	return scenarios, scanner.Err()
}

func isStepLine(line string) bool {
	for _, prefix := range []string{"Given ", "When ", "Then ", "And ", "But "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func stepText(line string) string {
	for _, prefix := range []string{"Given ", "When ", "Then ", "And ", "But "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return line
}
