package main

import (
	"fmt"
	"os"

	bpcconfig "github.com/farxc/bpc-insight/internal/config"
	"github.com/farxc/bpc-insight/internal/env"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	const component = "Main"

	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	cfgFile := flags.String("config", "", "config file (default: ./bpc.yaml)")
	flags.String("addr", ":8080", "Listen address")
	flags.String("store", store.BackendFile, "Store backend: file, sqlite, postgres")
	flags.String("dsn", "", "Database DSN for the sqlite and postgres backends")
	flags.String("store-dir", "data", "Directory of the flat-file store")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	_ = flags.Parse(os.Args[1:])

	if err := env.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := bpcconfig.Load(*cfgFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.NewCLI(os.Stderr, cfg.LogLevel())

	storage, closeStore, err := store.Open(cfg.Store, appLogger)
	if err != nil {
		appLogger.Fatal(component, "Store unavailable: error=%v", err)
		return
	}
	defer closeStore()

	app := &application{
		config: config{
			addr:         cfg.API.Addr,
			storeBackend: cfg.Store.Backend,
		},
		store:  storage,
		logger: appLogger,
	}

	mux := app.mount()

	if err := app.run(mux); err != nil {
		appLogger.Fatal(component, "Server stopped: error=%v", err)
	}
}
