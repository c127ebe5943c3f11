package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
)

// CLI is the bookingctl command tree.
type CLI struct {
	Version  kong.VersionFlag
	LogLevel string `help:"Log level." default:"warn" env:"LOG_LEVEL"`

	Search     SearchCmd     `cmd:"" help:"Find the earliest week with availability."`
	Patient    PatientCmd    `cmd:"" help:"Look up a patient by RUT."`
	Treatments TreatmentsCmd `cmd:"" help:"List a patient's treatments."`
	Cancel     CancelCmd     `cmd:"" help:"Cancel an appointment by id or the patient's next one by RUT."`
	Backends   BackendsCmd   `cmd:"" help:"Show configured backends and branch routing."`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("bookingctl"),
		kong.Description("Operate the clinic booking engine from the command line"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	cfg := appconfig.Load()
	cfg.LogLevel = cli.LogLevel
	logger := mainconfig.NewLogger(cfg)

	// Bookings made here are not mirrored to the CRM.
	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineOptions{
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	appCtx := &Context{
		Ctx:       context.Background(),
		Out:       os.Stdout,
		Searcher:  engine.Searcher,
		Lifecycle: engine.Manager,
		Routing:   engine.Backends,
	}
	if err := kctx.Run(appCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
