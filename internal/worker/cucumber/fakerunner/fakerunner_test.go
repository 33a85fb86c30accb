package fakerunner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/cucumber/fakerunner"
)

const feature = `Feature: order placement

Scenario: happy path
Given a topic directive for "orders"
When a message is produced
Then the message is consumed

Scenario: broker unavailable
Given a topic directive for "orders"
When the broker rejects the connection
Then the scenario fails
`

func stageFeature(t *testing.T, body string) *storage.Namespace {
	t.Helper()
	staging := storage.NewStaging()
	ns := staging.Acquire("test-1")
	ns.Write("features/orders.feature", []byte(body))
	return ns
}

func TestRunAllStepsKnownAndPassing(t *testing.T) {
	ns := stageFeature(t, feature)
	runner := fakerunner.New(map[string]bool{
		`a topic directive for "orders"`:     true,
		"a message is produced":              true,
		"the message is consumed":            true,
		"the broker rejects the connection":  true,
		"the scenario fails":                 true,
	})

	result, err := runner.Run(context.Background(), ns, nil)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.ScenariosPassed)
	assert.Equal(t, 0, result.ScenariosFailed)
}

func TestRunMarksScenarioFailedOnExplicitFailure(t *testing.T) {
	ns := stageFeature(t, feature)
	runner := fakerunner.New(map[string]bool{
		`a topic directive for "orders"`:    true,
		"a message is produced":             true,
		"the message is consumed":           true,
		"the broker rejects the connection": false,
		"the scenario fails":                true,
	})

	result, err := runner.Run(context.Background(), ns, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.ScenariosPassed)
	assert.Equal(t, 1, result.ScenariosFailed)
	assert.Equal(t, []string{"broker unavailable"}, result.FailedScenarioNames)
	assert.Equal(t, 1, result.StepsSkipped, "the step after the failing one must be skipped, not executed")
}

func TestRunMarksScenarioUndefinedOnUnknownStep(t *testing.T) {
	ns := stageFeature(t, feature)
	runner := fakerunner.New(map[string]bool{
		`a topic directive for "orders"`: true,
	})

	result, err := runner.Run(context.Background(), ns, nil)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 2, result.ScenariosUndefined)
}
