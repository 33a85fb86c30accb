// Package config is the process-wide hierarchical configuration store
// (§6.6). It is read-only after construction (§5 "Shared resources") and the
// only namespace addressable by TemplateEngine's {{$^...}} references is
// RequestParams.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/drone/envsubst"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ActorSystemConfig configures the supervision backbone (§6.6).
type ActorSystemConfig struct {
	Name                  string        `yaml:"name"`
	Timeout               time.Duration `yaml:"timeout"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	InitializationTimeout time.Duration `yaml:"initialization_timeout"`
	PoolSize              int           `yaml:"pool_size"`
	MaxExecutionTime      time.Duration `yaml:"max_execution_time"`
}

func (c *ActorSystemConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Name = "test-probe"
	c.Timeout = 30 * time.Second
	c.ShutdownTimeout = 30 * time.Second
	c.InitializationTimeout = 30 * time.Second
	c.PoolSize = 16
	c.MaxExecutionTime = 10 * time.Minute

	f.StringVar(&c.Name, prefix+"actor-system.name", c.Name, "Name of the actor system.")
	f.DurationVar(&c.Timeout, prefix+"actor-system.timeout", c.Timeout, "Default ask timeout between components.")
	f.DurationVar(&c.ShutdownTimeout, prefix+"actor-system.shutdown-timeout", c.ShutdownTimeout, "Time allowed for graceful shutdown.")
	f.DurationVar(&c.InitializationTimeout, prefix+"actor-system.initialization-timeout", c.InitializationTimeout, "Time allowed for Guardian.Initialize.")
	f.IntVar(&c.PoolSize, prefix+"actor-system.pool-size", c.PoolSize, "Size of the worker goroutine pool.")
	f.DurationVar(&c.MaxExecutionTime, prefix+"actor-system.max-execution-time", c.MaxExecutionTime, "Hard ceiling on one test's total lifetime.")
}

// SupervisionConfig configures Guardian's restart budget (§4.1).
type SupervisionConfig struct {
	MaxRestarts      int           `yaml:"max_restarts"`
	RestartTimeRange time.Duration `yaml:"restart_time_range"`
}

func (c *SupervisionConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.MaxRestarts = 10
	c.RestartTimeRange = 60 * time.Second

	f.IntVar(&c.MaxRestarts, prefix+"supervision.max-restarts", c.MaxRestarts, "Restarts allowed within restart-time-range before escalation.")
	f.DurationVar(&c.RestartTimeRange, prefix+"supervision.restart-time-range", c.RestartTimeRange, "Fixed window after which the counted restarts are reset.")
}

// TestExecutionConfig configures cross-cutting execution behavior (§6.6).
type TestExecutionConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	CleanupDelay    time.Duration `yaml:"cleanup_delay"`
	StashBufferSize int           `yaml:"stash_buffer_size"`
}

func (c *TestExecutionConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.MaxRetries = 3
	c.CleanupDelay = 5 * time.Second
	c.StashBufferSize = 100

	f.IntVar(&c.MaxRetries, prefix+"test-execution.max-retries", c.MaxRetries, "Default retry budget for vault fetches (K in §4.5).")
	f.DurationVar(&c.CleanupDelay, prefix+"test-execution.cleanup-delay", c.CleanupDelay, "Delay before a ShuttingDown executor is destroyed.")
	f.IntVar(&c.StashBufferSize, prefix+"test-execution.stash-buffer-size", c.StashBufferSize, "Mailbox buffer size for each component.")
}

// TimersConfig configures the per-state poison-pill timers (§4.3).
type TimersConfig struct {
	SetupState     time.Duration `yaml:"setup_state"`
	LoadingState   time.Duration `yaml:"loading_state"`
	CompletedState time.Duration `yaml:"completed_state"`
	ExceptionState time.Duration `yaml:"exception_state"`
}

func (c *TimersConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.SetupState = 60 * time.Second
	c.LoadingState = 120 * time.Second
	c.CompletedState = 30 * time.Second
	c.ExceptionState = 30 * time.Second

	f.DurationVar(&c.SetupState, prefix+"timers.setup-state", c.SetupState, "Poison-pill timeout for Setup.")
	f.DurationVar(&c.LoadingState, prefix+"timers.loading-state", c.LoadingState, "Poison-pill timeout for Loading.")
	f.DurationVar(&c.CompletedState, prefix+"timers.completed-state", c.CompletedState, "Cleanup timeout for Completed.")
	f.DurationVar(&c.ExceptionState, prefix+"timers.exception-state", c.ExceptionState, "Cleanup timeout for Exception.")
}

// StorageConfig configures the BlockStorageWorker's provider (§6.6).
type StorageConfig struct {
	Provider               string        `yaml:"provider"`
	TopicDirectiveFileName string        `yaml:"topic-directive-file-name"`
	Timeout                time.Duration `yaml:"timeout"`

	Local LocalStorageConfig `yaml:"local"`
	S3    S3StorageConfig    `yaml:"s3"`
	GCS   GCSStorageConfig   `yaml:"gcs"`
	Azure AzureStorageConfig `yaml:"azure"`
}

type LocalStorageConfig struct {
	RootDir string `yaml:"root_dir"`
}

type S3StorageConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type GCSStorageConfig struct {
	ProjectID string `yaml:"project_id"`
}

type AzureStorageConfig struct {
	AccountName string `yaml:"account_name"`
}

func (c *StorageConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Provider = "local"
	c.TopicDirectiveFileName = "topic-directives.yaml"
	c.Timeout = 30 * time.Second

	f.StringVar(&c.Provider, prefix+"storage.provider", c.Provider, "One of local, s3, gcs, azure.")
	f.StringVar(&c.TopicDirectiveFileName, prefix+"storage.topic-directive-file-name", c.TopicDirectiveFileName, "Manifest filename expected in every bundle.")
	f.DurationVar(&c.Timeout, prefix+"storage.timeout", c.Timeout, "Per-call timeout for the storage provider.")
	f.StringVar(&c.Local.RootDir, prefix+"storage.local.root-dir", "/tmp/test-probe", "Root directory for the local storage provider.")
	f.StringVar(&c.S3.Region, prefix+"storage.s3.region", "", "AWS region for the S3 storage provider.")
	f.StringVar(&c.S3.Endpoint, prefix+"storage.s3.endpoint", "", "Optional S3-compatible endpoint override.")
	f.StringVar(&c.GCS.ProjectID, prefix+"storage.gcs.project-id", "", "GCP project for the GCS storage provider.")
	f.StringVar(&c.Azure.AccountName, prefix+"storage.azure.account-name", "", "Storage account for the Azure storage provider.")
}

// VaultOAuthConfig is shared oauth endpoint configuration (§6.6).
type VaultOAuthConfig struct {
	TokenEndpoint string `yaml:"token_endpoint"`
	Scope         string `yaml:"scope"`
}

// VaultConfig configures the VaultWorker's provider (§6.6).
type VaultConfig struct {
	Provider           string           `yaml:"provider"`
	RosettaMappingPath string           `yaml:"rosetta-mapping-path"`
	OAuth              VaultOAuthConfig `yaml:"oauth"`

	// RetryInitialBackoff is "initial" in §4.5's linear escalation
	// (initial * attempt); MaxRetries borrows test-execution.max-retries as K.
	RetryInitialBackoff time.Duration `yaml:"retry-initial-backoff"`

	HashiCorp HashiCorpVaultConfig `yaml:"hashicorp"`
	AzureKV   AzureKVConfig        `yaml:"azure"`
}

type HashiCorpVaultConfig struct {
	Address string `yaml:"address"`
	Mount   string `yaml:"mount"`
}

type AzureKVConfig struct {
	VaultURL string `yaml:"vault_url"`
}

func (c *VaultConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Provider = "local"
	c.RosettaMappingPath = "rosetta-mapping.yaml"
	c.RetryInitialBackoff = 200 * time.Millisecond

	f.StringVar(&c.Provider, prefix+"vault.provider", c.Provider, "One of local, hashicorp, azure.")
	f.StringVar(&c.RosettaMappingPath, prefix+"vault.rosetta-mapping-path", c.RosettaMappingPath, "Path to the Rosetta mapping file (§6.5).")
	f.DurationVar(&c.RetryInitialBackoff, prefix+"vault.retry-initial-backoff", c.RetryInitialBackoff, "Initial backoff for the linear vault-fetch retry schedule (§4.5).")
	f.StringVar(&c.OAuth.TokenEndpoint, prefix+"vault.oauth.token-endpoint", "", "Default OAuth token endpoint.")
	f.StringVar(&c.OAuth.Scope, prefix+"vault.oauth.scope", "", "Default OAuth scope.")
	f.StringVar(&c.HashiCorp.Address, prefix+"vault.hashicorp.address", "", "HashiCorp Vault server address.")
	f.StringVar(&c.HashiCorp.Mount, prefix+"vault.hashicorp.mount", "secret", "HashiCorp Vault KV mount point.")
	f.StringVar(&c.AzureKV.VaultURL, prefix+"vault.azure.vault-url", "", "Azure Key Vault URL.")
}

// KafkaConfig configures the Kafka endpoints producer/consumer workers target (§6.6).
type KafkaConfig struct {
	BootstrapServers  []string         `yaml:"bootstrap-servers"`
	SchemaRegistryURL string           `yaml:"schema-registry-url"`
	OAuth             VaultOAuthConfig `yaml:"oauth"`
}

func (c *KafkaConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.BootstrapServers = []string{"localhost:9092"}
	f.Func(prefix+"kafka.bootstrap-servers", "Comma-separated Kafka bootstrap servers.", func(s string) error {
		c.BootstrapServers = splitCSV(s)
		return nil
	})
	f.StringVar(&c.SchemaRegistryURL, prefix+"kafka.schema-registry-url", "", "Schema registry URL.")
	f.StringVar(&c.OAuth.TokenEndpoint, prefix+"kafka.oauth.token-endpoint", "", "Kafka OAuth token endpoint.")
	f.StringVar(&c.OAuth.Scope, prefix+"kafka.oauth.scope", "", "Kafka OAuth scope.")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// HTTPConfig configures the REST surface (§6.1).
type HTTPConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

func (c *HTTPConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.ListenAddress = ":8080"
	f.StringVar(&c.ListenAddress, prefix+"http.listen-address", c.ListenAddress, "Address the REST surface listens on.")
}

// LogConfig configures the ambient logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

func (c *LogConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Level = "info"
	f.StringVar(&c.Level, prefix+"log.level", c.Level, "One of debug, info, warn, error.")
}

// Config is the root, process-wide configuration store (§6.6). It is
// read-only after RegisterFlagsAndApplyDefaults + any YAML overlay completes.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Log           LogConfig           `yaml:"log"`
	ActorSystem   ActorSystemConfig   `yaml:"actor-system"`
	Supervision   SupervisionConfig   `yaml:"supervision"`
	TestExecution TestExecutionConfig `yaml:"test-execution"`
	Timers        TimersConfig        `yaml:"timers"`
	Storage       StorageConfig       `yaml:"storage"`
	Vault         VaultConfig         `yaml:"vault"`
	Kafka         KafkaConfig         `yaml:"kafka"`

	// RequestParams is the only namespace addressable by TemplateEngine's
	// {{$^request-params....}} references (§4.7, §6.6).
	RequestParams map[string]any `yaml:"request-params"`
}

// RegisterFlagsAndApplyDefaults wires every sub-config's flags under one
// root FlagSet, the way the teacher's cmd/tempo/app/config.go does.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.HTTP.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Log.RegisterFlagsAndApplyDefaults(prefix, f)
	c.ActorSystem.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Supervision.RegisterFlagsAndApplyDefaults(prefix, f)
	c.TestExecution.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Timers.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Storage.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Vault.RegisterFlagsAndApplyDefaults(prefix, f)
	c.Kafka.RegisterFlagsAndApplyDefaults(prefix, f)
}

// Lookup resolves a dot-separated path under RequestParams, e.g. "a.b.c" for
// {{$^request-params.a.b.c}} (§4.7). ok is false if any segment is missing or
// not a map.
func (c *Config) Lookup(path []string) (any, bool) {
	var cur any = map[string]any(c.RequestParams)
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Validate aggregates every configuration violation into one error (§6.6:
// "Invalid configuration causes startup to fail with an aggregated list of
// violations").
func (c *Config) Validate() error {
	var err error

	if c.Supervision.MaxRestarts <= 0 {
		err = multierr.Append(err, fmt.Errorf("supervision.max-restarts must be positive, got %d", c.Supervision.MaxRestarts))
	}
	if c.Supervision.RestartTimeRange <= 0 {
		err = multierr.Append(err, fmt.Errorf("supervision.restart-time-range must be positive"))
	}
	if c.TestExecution.MaxRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("test-execution.max-retries must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"timers.setup-state":     c.Timers.SetupState,
		"timers.loading-state":   c.Timers.LoadingState,
		"timers.completed-state": c.Timers.CompletedState,
		"timers.exception-state": c.Timers.ExceptionState,
	} {
		if d <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive", name))
		}
	}
	switch c.Storage.Provider {
	case "local", "s3", "gcs", "azure":
	default:
		err = multierr.Append(err, fmt.Errorf("storage.provider %q is not one of local, s3, gcs, azure", c.Storage.Provider))
	}
	switch c.Vault.Provider {
	case "local", "hashicorp", "azure":
	default:
		err = multierr.Append(err, fmt.Errorf("vault.provider %q is not one of local, hashicorp, azure", c.Vault.Provider))
	}
	if c.Storage.TopicDirectiveFileName == "" {
		err = multierr.Append(err, fmt.Errorf("storage.topic-directive-file-name must not be empty"))
	}

	return err
}

// Load parses the YAML document at path, optionally expanding environment
// variables first (§6.6 / cmd/tempo/main.go's loadConfig), overlaying onto a
// Config that already carries flag defaults.
func Load(path string, expandEnv bool, c *Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if expandEnv {
		expanded, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return fmt.Errorf("failed to expand env vars in config file %s: %w", path, err)
		}
		buf = []byte(expanded)
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
