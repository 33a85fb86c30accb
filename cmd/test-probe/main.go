package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/app"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	applog "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/util/log"
)

const appName = "test-probe"

func main() {
	configFile := flag.String("config.file", "", "Path to a YAML configuration file to overlay onto the defaults.")
	configExpandEnv := flag.Bool("config.expand-env", false, "Expand ${VAR} references in the config file against the process environment.")

	var cfg config.Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.CommandLine)
	flag.Parse()

	if *configFile != "" {
		if err := config.Load(*configFile, *configExpandEnv, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
			os.Exit(1)
		}
	}

	applog.Init(applog.Level(cfg.Log.Level))
	logger := applog.Logger

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	builder := app.NewBuilder().
		WithConfig(app.NewConfigProvider(&cfg, logger)).
		WithStorageService(app.NewStorageProvider(cfg.Storage)).
		WithVaultService(app.NewVaultProvider(cfg.Vault)).
		WithActorSystem(app.NewActorSystemProvider(cfg.Supervision, cfg.TestExecution, cfg.Timers, cfg.Vault, cfg.Storage, cfg.Kafka)).
		WithInterface(app.NewInterfaceProvider(cfg.HTTP.ListenAddress))

	sc, err := builder.Build(context.Background())
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize "+appName, "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "starting "+appName, "listen_address", cfg.HTTP.ListenAddress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, sc); err != nil {
		level.Error(logger).Log("msg", "error running "+appName, "err", err)
		os.Exit(1)
	}
}
