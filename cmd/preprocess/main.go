package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/database"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/repository"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/service"
)

func main() {
	var date string
	var routes string
	var force bool
	var restore bool

	flag.StringVar(&date, "date", "", "operating day YYYY-MM-DD (default: today minus the configured lag)")
	flag.StringVar(&routes, "routes", "", "comma separated route ids (default: all routes of the day)")
	flag.BoolVar(&force, "force", false, "reprocess route days already stored")
	flag.BoolVar(&restore, "restore", false, "restore the route days from the blob mirror instead of reprocessing")
	flag.Parse()

	q := models.PreprocessQuery{RouteIDs: routes, Date: date, Force: force}
	if err := q.Validate(); err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := log.Default()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := database.MigrateUp(db); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	ctx := context.Background()
	blobs, err := repository.NewFileBlobStore(cfg.BlobDir)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}
	store := repository.NewClusterStore(db, blobs, logger)

	if date == "" {
		date = service.DefaultOday(time.Now(), &cfg.Analysis)
	}

	if restore {
		if routes == "" {
			log.Fatalf("-restore requires -routes")
		}
		for _, routeID := range q.RouteIDList() {
			if err := store.Restore(ctx, routeID, date); err != nil {
				log.Fatalf("restore %s %s: %v", routeID, date, err)
			}
		}
		return
	}

	var source service.TelemetrySource = repository.NewTelemetryRepository(db)
	if cfg.TelemetryDatabaseURL != "" {
		pg, err := repository.NewPgTelemetryRepository(ctx, cfg.TelemetryDatabaseURL)
		if err != nil {
			log.Fatalf("connect telemetry db: %v", err)
		}
		defer pg.Close()
		source = pg
	}

	svc := service.NewPreprocessService(source, store, &cfg.Analysis, logger)
	report, err := svc.Run(ctx, date, q.RouteIDList(), force)
	if err != nil {
		log.Fatalf("preprocess %s (%s): %v", date, strings.Join(q.RouteIDList(), ","), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("write report: %v", err)
	}
}
