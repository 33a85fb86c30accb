package app_test

import (
	"context"
	"flag"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/app"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
)

// recordingProvider appends a tag to a shared log at each lifecycle step, so
// tests can assert on the order Build() invokes providers in without caring
// about what any one provider actually does.
type recordingProvider struct {
	name string
	log  *[]string
}

func (p recordingProvider) PreFlight(ctx *app.Context) error {
	*p.log = append(*p.log, "preflight:"+p.name)
	return nil
}

func (p recordingProvider) Initialize(ctx *app.Context) error {
	*p.log = append(*p.log, "initialize:"+p.name)
	return nil
}

func (p recordingProvider) FinalCheck(ctx *app.Context) error {
	*p.log = append(*p.log, "finalcheck:"+p.name)
	return nil
}

func TestBuildRunsEachPhaseInDocumentedOrder(t *testing.T) {
	var calls []string
	rec := func(name string) recordingProvider { return recordingProvider{name: name, log: &calls} }

	builder := app.NewBuilder().
		WithConfig(rec("config")).
		WithStorageService(rec("storage")).
		WithVaultService(rec("vault")).
		WithActorSystem(rec("actorsystem")).
		WithExtension(rec("extension")).
		WithInterface(rec("interface"))

	_, err := builder.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, calls, 18)

	preFlight := calls[0:6]
	assert.Equal(t, []string{
		"preflight:config", "preflight:storage", "preflight:vault",
		"preflight:extension", "preflight:actorsystem", "preflight:interface",
	}, preFlight)

	initialize := calls[6:12]
	assert.Equal(t, []string{
		"initialize:config", "initialize:extension", "initialize:actorsystem",
		"initialize:storage", "initialize:vault", "initialize:interface",
	}, initialize)

	finalCheck := calls[12:18]
	assert.Equal(t, []string{
		"finalcheck:config", "finalcheck:extension", "finalcheck:actorsystem",
		"finalcheck:storage", "finalcheck:vault", "finalcheck:interface",
	}, finalCheck)
}

// failingProvider fails whichever phase name matches, letting a test assert
// that a failure in an earlier-ordered provider stops the whole composition
// before any later provider's same phase runs.
type failingProvider struct {
	name      string
	failPhase string
	log       *[]string
}

func (p failingProvider) PreFlight(ctx *app.Context) error {
	return p.step(ctx, "preflight")
}

func (p failingProvider) Initialize(ctx *app.Context) error {
	return p.step(ctx, "initialize")
}

func (p failingProvider) FinalCheck(ctx *app.Context) error {
	return p.step(ctx, "finalcheck")
}

func (p failingProvider) step(_ *app.Context, phase string) error {
	*p.log = append(*p.log, phase+":"+p.name)
	if phase == p.failPhase {
		return fmt.Errorf("%s failed at %s", p.name, phase)
	}
	return nil
}

func TestBuildAbortsOnFirstPreFlightFailure(t *testing.T) {
	var calls []string

	builder := app.NewBuilder().
		WithConfig(failingProvider{name: "config", log: &calls}).
		WithStorageService(failingProvider{name: "storage", failPhase: "preflight", log: &calls}).
		WithVaultService(failingProvider{name: "vault", log: &calls}).
		WithActorSystem(failingProvider{name: "actorsystem", log: &calls}).
		WithInterface(failingProvider{name: "interface", log: &calls})

	_, err := builder.Build(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{"preflight:config", "preflight:storage"}, calls, "vault/actorsystem/interface PreFlight must not run once storage's fails")
}

func defaultTestConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))
	cfg.HTTP.ListenAddress = "127.0.0.1:0"
	return cfg
}

func TestBuildWithDefaultLocalProvidersEndToEnd(t *testing.T) {
	cfg := defaultTestConfig(t)
	require.NoError(t, cfg.Validate())

	builder := app.NewBuilder().
		WithConfig(app.NewConfigProvider(&cfg, log.NewNopLogger())).
		WithStorageService(app.NewStorageProvider(cfg.Storage)).
		WithVaultService(app.NewVaultProvider(cfg.Vault)).
		WithActorSystem(app.NewActorSystemProvider(cfg.Supervision, cfg.TestExecution, cfg.Timers, cfg.Vault, cfg.Storage, cfg.Kafka)).
		WithInterface(app.NewInterfaceProvider(cfg.HTTP.ListenAddress))

	sc, err := builder.Build(context.Background())
	require.NoError(t, err)
	defer func() { _ = sc.Guardian.Shutdown(context.Background()) }()

	require.NotNil(t, sc.Guardian)
	require.False(t, sc.Guardian.Degraded())

	qm, err := sc.Guardian.GetQueueActor()
	require.NoError(t, err)

	id := qm.InitializeTest()
	assert.NotEmpty(t, id)

	require.NotNil(t, sc.HTTPServer)
	require.NotNil(t, sc.Router)
}
