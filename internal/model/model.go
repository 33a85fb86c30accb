// Package model holds the immutable value types passed between control-plane
// components (§3 of the specification). None of these types carry behavior
// beyond what's needed to move data between actors; they are intentionally
// plain structs.
package model

import (
	"encoding/json"
	"time"
)

// TestID identifies one test's run through the lifecycle (§3.1).
type TestID string

// Role is which side of a Kafka topic a test plays.
type Role string

const (
	RoleProducer Role = "PRODUCER"
	RoleConsumer Role = "CONSUMER"
)

// EventFilter is a single key/value match applied to a topic's traffic.
type EventFilter struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// TopicDirective describes one Kafka topic a test touches (§3.1).
type TopicDirective struct {
	Topic           string            `yaml:"topic"`
	Role            Role              `yaml:"role"`
	ClientPrincipal string            `yaml:"clientPrincipal"`
	EventFilters    []EventFilter     `yaml:"eventFilters,omitempty"`
	Metadata        map[string]string `yaml:"metadata,omitempty"`
}

// TopicDirectiveManifest is the parsed form of the YAML manifest (§6.4).
type TopicDirectiveManifest struct {
	Topics []TopicDirective `yaml:"topics"`
}

// BlockStorageDirective is produced by the storage fetch and consumed by
// everything downstream (§3.1).
type BlockStorageDirective struct {
	TestID          TestID
	Bucket          string
	StagedLocation  string
	EvidenceDir     string
	TopicDirectives []TopicDirective
}

// SecurityProtocol is the Kafka security protocol a directive configures.
type SecurityProtocol string

const (
	ProtocolPlaintext SecurityProtocol = "PLAINTEXT"
	ProtocolSASLSSL   SecurityProtocol = "SASL_SSL"
)

// KafkaSecurityDirective carries the Kafka auth material for one topic. Secret
// material appears only inside JaasConfig (§3.1, §3.5): never add a field here
// that copies it elsewhere, and never derive a generic map/JSON encoder for
// this type (see JaasConfig.String's redaction below).
type KafkaSecurityDirective struct {
	Topic      string
	Role       Role
	Protocol   SecurityProtocol
	JaasConfig JaasConfig
}

// JaasConfig wraps a raw JAAS configuration string so that it can never be
// accidentally logged, JSON-marshaled, or printed in full: its only public
// accessor is Reveal, which every caller must request by name.
type JaasConfig string

// String satisfies fmt.Stringer with a redaction placeholder so %v/%s in a
// log statement never leaks the secret.
func (j JaasConfig) String() string {
	if j == "" {
		return ""
	}
	return "[redacted jaas config]"
}

// MarshalJSON emits the same redaction placeholder as String, so encoding a
// KafkaSecurityDirective never writes the secret out.
func (j JaasConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.String())
}

// Reveal returns the underlying string. Only the ProducerWorker/ConsumerWorker
// construction path (and tests) may call this.
func (j JaasConfig) Reveal() string {
	return string(j)
}

// TestExecutionResult is emitted by the Cucumber worker (§3.1).
type TestExecutionResult struct {
	TestID                TestID
	Passed                bool
	ScenariosPassed       int
	ScenariosFailed       int
	ScenariosSkipped      int
	ScenariosUndefined    int
	StepsPassed           int
	StepsFailed           int
	StepsSkipped          int
	StepsUndefined        int
	DurationMs            int64
	ErrorMessage          string
	FailedScenarioNames   []string
}

// State is one of the seven canonical lifecycle states (§3.3).
type State string

const (
	StateSetup        State = "Setup"
	StateLoading      State = "Loading"
	StateLoaded       State = "Loaded"
	StateTesting      State = "Testing"
	StateCompleted    State = "Completed"
	StateException    State = "Exception"
	StateShuttingDown State = "ShuttingDown"
)

// IsTerminal reports whether s is externally observable as done (§3.3).
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateException
}

// StatusSnapshot is what a Status query produces regardless of state (§4.3, §6.2).
type StatusSnapshot struct {
	TestID       TestID
	State        State
	Bucket       *string
	TestType     *string
	StartTime    *time.Time
	EndTime      *time.Time
	Success      *bool
	ErrorMessage *string
}
