package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/api"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/credmap"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/executor"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/guardian"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/jaas"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/queuemanager"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage/azure"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage/gcs"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage/local"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage/s3"
	vaultprovider "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault/azurekv"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault/hashicorp"
	vaultlocal "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault/local"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/blockstorage"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/cucumber/fakerunner"
	vaultworker "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/worker/vault"
)

// ConfigProvider is the required Config provider. It carries an
// already-populated *config.Config (flags parsed and any YAML overlay
// applied by the caller, the way cmd/tempo/main.go's loadConfig does it
// before app.New runs) rather than reading it itself, since PreFlight runs
// before any provider's Initialize and must not depend on file I/O outcomes
// that later providers assume already happened.
type ConfigProvider struct {
	Cfg    *config.Config
	Logger log.Logger
}

func NewConfigProvider(cfg *config.Config, logger log.Logger) *ConfigProvider {
	return &ConfigProvider{Cfg: cfg, Logger: logger}
}

func (p *ConfigProvider) PreFlight(ctx *Context) error {
	return p.Cfg.Validate()
}

func (p *ConfigProvider) Initialize(ctx *Context) error {
	ctx.Config = p.Cfg
	ctx.Logger = p.Logger
	ctx.Registerer = prometheus.DefaultRegisterer
	return nil
}

func (p *ConfigProvider) FinalCheck(ctx *Context) error {
	if ctx.Config == nil {
		return fmt.Errorf("config provider: ctx.Config was not set")
	}
	return nil
}

// StorageProvider is the required StorageService provider (§3.1): it
// dispatches on config.Storage.Provider to the concrete transport. The
// concrete constructors that need network setup (S3/GCS/Azure) are invoked
// in Initialize, never PreFlight, since PreFlight "must not open network
// connections" (§4.10).
type StorageProvider struct {
	cfg config.StorageConfig
}

func NewStorageProvider(cfg config.StorageConfig) *StorageProvider {
	return &StorageProvider{cfg: cfg}
}

func (p *StorageProvider) PreFlight(ctx *Context) error {
	switch p.cfg.Provider {
	case "local", "s3", "gcs", "azure":
		return nil
	default:
		return fmt.Errorf("storage provider %q is not one of local, s3, gcs, azure", p.cfg.Provider)
	}
}

func (p *StorageProvider) Initialize(ctx *Context) error {
	var (
		transport storage.Transport
		err       error
	)
	switch p.cfg.Provider {
	case "local":
		transport = local.New(p.cfg.Local.RootDir)
	case "s3":
		transport, err = s3.New(context.Background(), p.cfg.S3.Region, p.cfg.S3.Endpoint)
	case "gcs":
		transport, err = gcs.New(context.Background())
	case "azure":
		transport, err = azure.New(p.cfg.Azure.AccountName)
	}
	if err != nil {
		return fmt.Errorf("initializing %s storage transport: %w", p.cfg.Provider, err)
	}
	ctx.StorageTransport = transport
	ctx.Staging = storage.NewStaging()
	return nil
}

func (p *StorageProvider) FinalCheck(ctx *Context) error {
	if ctx.StorageTransport == nil {
		return fmt.Errorf("storage provider: ctx.StorageTransport was not set")
	}
	return nil
}

// VaultProvider is the required VaultService provider (§4.4/§4.5): it
// dispatches on config.Vault.Provider and, for every non-local provider,
// loads the Rosetta mapping file (§6.5) alongside it.
type VaultProvider struct {
	cfg config.VaultConfig
}

func NewVaultProvider(cfg config.VaultConfig) *VaultProvider {
	return &VaultProvider{cfg: cfg}
}

func (p *VaultProvider) PreFlight(ctx *Context) error {
	switch p.cfg.Provider {
	case "local", "hashicorp", "azure":
		return nil
	default:
		return fmt.Errorf("vault provider %q is not one of local, hashicorp, azure", p.cfg.Provider)
	}
}

func (p *VaultProvider) Initialize(ctx *Context) error {
	var (
		provider vaultprovider.Provider
		mapping  credmap.RosettaMapping
		err      error
	)
	switch p.cfg.Provider {
	case "local":
		provider = vaultlocal.New()
	case "hashicorp":
		provider, err = hashicorp.New(p.cfg.HashiCorp.Address, oauthTokenFromEnv(), p.cfg.HashiCorp.Mount)
	case "azure":
		provider, err = azurekv.New(p.cfg.AzureKV.VaultURL)
	}
	if err != nil {
		return fmt.Errorf("initializing %s vault provider: %w", p.cfg.Provider, err)
	}
	if p.cfg.Provider != "local" {
		mapping, err = credmap.LoadMapping(p.cfg.RosettaMappingPath)
		if err != nil {
			return fmt.Errorf("loading rosetta mapping for %s vault provider: %w", p.cfg.Provider, err)
		}
	}
	ctx.VaultProvider = provider
	ctx.RosettaMapping = mapping
	return nil
}

func (p *VaultProvider) FinalCheck(ctx *Context) error {
	if ctx.VaultProvider == nil {
		return fmt.Errorf("vault provider: ctx.VaultProvider was not set")
	}
	return nil
}

// oauthTokenFromEnv is a placeholder for whatever bootstrap credential
// supplies the HashiCorp client's initial token; Test-Probe's own OAuth
// bearer construction (internal/jaas) is for Kafka SASL, not this.
func oauthTokenFromEnv() string { return "" }

// ActorSystemProvider is the required ActorSystem provider (§4.10): it
// builds the QueueManagerFactory/ExecutorFactory closures and the Guardian.
// The factories capture ctx itself, not ctx.StorageTransport/ctx.VaultProvider
// directly, because Initialize order is Config, extensions, ActorSystem,
// StorageService, VaultService, Interface (§4.10) — ActorSystem's own
// Initialize runs before Storage/Vault have populated those fields. By the
// time a factory actually runs (a real REST request after Build returns),
// every field is long since populated.
type ActorSystemProvider struct {
	supervision config.SupervisionConfig
	execution   config.TestExecutionConfig
	timers      config.TimersConfig
	vaultCfg    config.VaultConfig
	storageCfg  config.StorageConfig
	kafka       config.KafkaConfig
}

func NewActorSystemProvider(supervision config.SupervisionConfig, execution config.TestExecutionConfig, timers config.TimersConfig, vaultCfg config.VaultConfig, storageCfg config.StorageConfig, kafka config.KafkaConfig) *ActorSystemProvider {
	return &ActorSystemProvider{
		supervision: supervision,
		execution:   execution,
		timers:      timers,
		vaultCfg:    vaultCfg,
		storageCfg:  storageCfg,
		kafka:       kafka,
	}
}

func (p *ActorSystemProvider) PreFlight(ctx *Context) error {
	if p.supervision.MaxRestarts <= 0 {
		return fmt.Errorf("actor system: supervision.max-restarts must be positive")
	}
	return nil
}

func (p *ActorSystemProvider) Initialize(ctx *Context) error {
	executorFactory := func(execCtx context.Context, id model.TestID, notifier executor.Notifier) *executor.Executor {
		// Cucumber execution itself is an external collaborator the FSM only
		// depends on through cucumber.Runner; no real Gherkin engine lives in
		// this module, so ActorSystemProvider wires the same stand-in the
		// test suite drives the FSM with.
		collab := executor.Collaborators{
			BlockStorage:        blockstorage.New(ctx.StorageTransport, ctx.Staging, p.storageCfg.TopicDirectiveFileName),
			Vault:               p.newVaultWorker(ctx),
			CucumberRunner:      fakerunner.New(nil),
			Staging:             ctx.Staging,
			BootstrapServers:    p.kafka.BootstrapServers,
			ConsumerGroupPrefix: fmt.Sprintf("test-probe-%s", id),
			Registerer:          ctx.Registerer,
		}
		return executor.New(id, collab, notifier, p.timers, ctx.Logger)
	}

	queueManagerFactory := func() *queuemanager.QueueManager {
		return queuemanager.New(executorFactory, ctx.Logger)
	}

	ctx.Guardian = guardian.New(p.supervision, queueManagerFactory, ctx.Logger)
	if _, err := ctx.Guardian.Initialize(context.Background()); err != nil {
		return fmt.Errorf("initializing guardian: %w", err)
	}
	return nil
}

func (p *ActorSystemProvider) newVaultWorker(ctx *Context) *vaultworker.Worker {
	retry := vaultworker.RetryPolicy{MaxAttempts: p.execution.MaxRetries, Initial: p.vaultCfg.RetryInitialBackoff}
	oauthDefaults := jaas.Params{TokenURL: p.vaultCfg.OAuth.TokenEndpoint, Scope: p.vaultCfg.OAuth.Scope}
	return vaultworker.New(p.vaultCfg.Provider, ctx.VaultProvider, ctx.RosettaMapping, ctx.Config, oauthDefaults, retry)
}

func (p *ActorSystemProvider) FinalCheck(ctx *Context) error {
	if ctx.Guardian == nil {
		return fmt.Errorf("actor system provider: ctx.Guardian was not set")
	}
	return nil
}

// InterfaceProvider is the required Interface provider (§6.1): it builds the
// *mux.Router, registers the REST surface, /metrics, and the *http.Server.
type InterfaceProvider struct {
	listenAddress string
}

func NewInterfaceProvider(listenAddress string) *InterfaceProvider {
	return &InterfaceProvider{listenAddress: listenAddress}
}

func (p *InterfaceProvider) PreFlight(ctx *Context) error {
	if p.listenAddress == "" {
		return fmt.Errorf("interface provider: http.listen-address must not be empty")
	}
	return nil
}

func (p *InterfaceProvider) Initialize(ctx *Context) error {
	router := mux.NewRouter()
	snapshot := configSnapshot(ctx.Config)
	api.New(ctx.Guardian, ctx.Logger, snapshot).Register(router)
	router.Handle("/metrics", promhttp.Handler())

	ctx.Router = router
	ctx.HTTPServer = &http.Server{
		Addr:              p.listenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (p *InterfaceProvider) FinalCheck(ctx *Context) error {
	if ctx.HTTPServer == nil {
		return fmt.Errorf("interface provider: ctx.HTTPServer was not set")
	}
	return nil
}

// configSnapshot surfaces non-secret configuration fields through
// QueueStatus (SPEC_FULL §C.5): credentials and mapping contents never
// belong in this view.
func configSnapshot(cfg *config.Config) api.ConfigSnapshot {
	return api.ConfigSnapshot{
		"storage.provider":         cfg.Storage.Provider,
		"vault.provider":           cfg.Vault.Provider,
		"actor-system.name":        cfg.ActorSystem.Name,
		"supervision.max-restarts": cfg.Supervision.MaxRestarts,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then drains
// in-flight requests before returning (mirrors cmd/tempo/app's Run loop).
func Run(ctx context.Context, sc *Context) error {
	errCh := make(chan error, 1)
	go func() {
		level.Info(sc.Logger).Log("msg", "listening", "addr", sc.HTTPServer.Addr)
		if err := sc.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sc.HTTPServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if sc.Guardian != nil {
		if err := sc.Guardian.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down guardian: %w", err)
		}
	}
	return nil
}
