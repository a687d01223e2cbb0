// Package main initializes the database schema and seeds the reference data
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/CrazyKoodaa/futures-trading-system/internal/config"
	"github.com/CrazyKoodaa/futures-trading-system/internal/repository"
	"github.com/CrazyKoodaa/futures-trading-system/internal/service"
	"github.com/CrazyKoodaa/futures-trading-system/pkg/utils/zaplogger"
)

func main() {
	cfg, err := config.Load(os.Getenv("FTS_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Storage.Backend != config.BackendPostgres {
		log.Fatalf("Migrations need the postgres backend, got %q", cfg.Storage.Backend)
	}
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.Server.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// ConnectPostgres migrates the tables
	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	report, err := repository.NewSchemaRepository(db).Init(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	zaplogger.Info("schema initialized")
	fmt.Println(string(out))

	registry := service.NewRegistryService(repository.NewRegistryRepository(db), cfg.Ingest.DefaultExchangeCode)
	if err := registry.Seed(ctx, time.Now().UTC()); err != nil {
		log.Fatalf("Failed to seed reference data: %v", err)
	}

	contracts, err := registry.ListContracts(ctx, "", true)
	if err != nil {
		log.Fatalf("Failed to list contracts: %v", err)
	}
	zaplogger.Info("reference data seeded", zaplogger.Fields{"active_contracts": len(contracts)})
}
