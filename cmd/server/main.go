package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis/recluster"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/api"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/database"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/handler"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/repository"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/service"
)

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger := log.Default()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	if err := database.MigrateUp(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source service.TelemetrySource = repository.NewTelemetryRepository(db)
	if cfg.TelemetryDatabaseURL != "" {
		pg, err := repository.NewPgTelemetryRepository(ctx, cfg.TelemetryDatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect telemetry database:", err)
		}
		defer pg.Close()
		source = pg
	}

	blobs, err := repository.NewFileBlobStore(cfg.BlobDir)
	if err != nil {
		log.Fatal("Failed to open blob store:", err)
	}
	clusters := repository.NewClusterStore(db, blobs, logger)
	jobs := repository.NewReclusterRepository(db)

	preprocessSvc := service.NewPreprocessService(source, clusters, &cfg.Analysis, logger)
	engine := recluster.NewEngine(clusters, jobs, recluster.ParamsFrom(&cfg.Analysis), logger)
	reclusterSvc := service.NewReclusterService(jobs, engine, logger)

	if cfg.PreprocessInterval > 0 {
		worker := service.NewDailyWorker(preprocessSvc, cfg.PreprocessInterval, logger)
		worker.Start()
		defer worker.Stop()
	}

	h := handler.NewDelayAnalyticsHandler(preprocessSvc, reclusterSvc)
	router := api.SetupRouter(cfg, h, logger)

	srv := &http.Server{Addr: cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}

	log.Printf("Waiting for recluster workers")
	reclusterSvc.Wait()
}
