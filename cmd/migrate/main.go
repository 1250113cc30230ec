package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/mailtrack-api/internal/repository"
	"github.com/noah-isme/mailtrack-api/internal/service"
	"github.com/noah-isme/mailtrack-api/migrations"
	"github.com/noah-isme/mailtrack-api/pkg/config"
	"github.com/noah-isme/mailtrack-api/pkg/database"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
)

func main() {
	var (
		dsn     = flag.String("dsn", "", "Database URL (defaults to DB_* settings)")
		up      = flag.Bool("up", false, "Run all up migrations")
		down    = flag.Bool("down", false, "Run all down migrations")
		steps   = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version = flag.Bool("version", false, "Print current migration version")
		force   = flag.Int("force", -1, "Force set version")
		legacy  = flag.String("import-legacy", "", "Import legacy assignment remarks from a YAML or JSON file")
	)
	flag.Parse()

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	if *legacy != "" {
		if err := importLegacy(*legacy); err != nil {
			log.Fatalf("legacy import failed: %v", err)
		}
		return
	}

	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		*dsn = cfg.Database.URL()
	}

	m, err := database.NewMigrator(*dsn, migrations.FS, ".")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer m.Close() //nolint:errcheck

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("failed to get version: %v", err)
		}
		fmt.Printf("version: %d, dirty: %v\n", v, dirty)
	case forceSet:
		if err := m.Force(*force); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		fmt.Printf("forced to version %d\n", *force)
	case *up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run up migrations: %v", err)
		}
		fmt.Println("migrations applied")
	case *down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run down migrations: %v", err)
		}
		fmt.Println("migrations reverted")
	case *steps != 0:
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run migrations: %v", err)
		}
		fmt.Printf("applied %d migration steps\n", *steps)
	default:
		fmt.Println("usage: migrate [-dsn URL] -up|-down|-steps N|-version|-force N|-import-legacy FILE")
		flag.PrintDefaults()
	}
}

// importLegacy loads remark histories from path and writes them as typed
// assignment events through the application database settings.
func importLegacy(path string) error {
	batches, err := readLegacyFile(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	importer := service.NewLegacyImportService(repository.NewAssignmentRepository(db), repository.NewUserRepository(db), db, logr)
	report, err := importer.Import(context.Background(), batches)
	if report != nil {
		fmt.Printf("imported %d events (%d reassignments) for %d assignments\n", report.Events, report.Reassigns, report.Assignments)
		for _, id := range report.SkippedExisting {
			fmt.Printf("skipped %s: already has events\n", id)
		}
		for _, id := range report.SkippedMissing {
			fmt.Printf("skipped %s: assignment not found\n", id)
		}
		for _, name := range report.UnresolvedNames {
			fmt.Printf("unresolved name: %s\n", name)
		}
	}
	return err
}

func readLegacyFile(path string) ([]service.LegacyAssignmentRemarks, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batches []service.LegacyAssignmentRemarks
	if err := yaml.Unmarshal(raw, &batches); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return batches, nil
}
