package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"

	"air-quality-platform/internal/cities"
	"air-quality-platform/internal/config"
	"air-quality-platform/internal/handlers"
	"air-quality-platform/internal/repository"
	"air-quality-platform/internal/services"
	"air-quality-platform/pkg/database"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

const (
	serviceName = "air-quality-pipeline"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override the environment
	start := flag.Int64("start", cfg.Window.Start, "Window start (Unix seconds)")
	end := flag.Int64("end", cfg.Window.End, "Window end (Unix seconds)")
	country := flag.String("country", cfg.Cities.CountryCode, "Two-letter country code to extract")
	skipDownload := flag.Bool("skip-download", cfg.Cities.SkipDownload, "Reuse the city archive already on disk")
	flag.Parse()

	cfg.Window.Start, cfg.Window.End = *start, *end
	cfg.Cities.CountryCode = strings.ToUpper(*country)
	cfg.Cities.SkipDownload = *skipDownload

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	loc, err := cfg.Output.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid timezone: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.New(logging.Options{
		Service:   serviceName,
		Version:   version,
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Dir:       cfg.Logging.Dir,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Console:   cfg.Logging.Console,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, time.Now().UTC().Format("20060102T150405Z"))

	startTime := time.Now()
	logger.Info(ctx, "[STARTUP] Air quality data extraction has started", logging.Fields{
		"version":  version,
		"country":  cfg.Cities.CountryCode,
		"start":    cfg.Window.Start,
		"end":      cfg.Window.End,
		"timezone": loc.String(),
		"output":   cfg.Output.Dir,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("air_quality")

	client := resty.New().
		SetHeader("User-Agent", serviceName+"/"+version).
		SetTimeout(cfg.API.Timeout)

	// Sinks: CSV is the artifact, the rest mirror it
	csvSink := repository.NewCSVSink(cfg.Output.Dir, logger, metricsCollector)
	var mirrors []repository.TableSink

	statusHandler := handlers.NewArtifactHandler(cfg.Output.Dir, logger, metricsCollector)

	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, &database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		mirrors = append(mirrors, repository.NewPostgresSink(db, loc, logger, metricsCollector))
		statusHandler.AddHealthCheck("postgres", db)
	}

	if cfg.Influx.Enabled {
		influx := repository.NewInfluxSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, loc, logger, metricsCollector)
		defer influx.Close()
		mirrors = append(mirrors, influx)
	}

	// Status server
	if cfg.Server.Addr != "" {
		router := mux.NewRouter()
		statusHandler.RegisterRoutes(router)

		server := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		go func() {
			logger.Info(ctx, "[SERVER_START] Status server listening", logging.Fields{
				"address": server.Addr,
			})

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "[SERVER_ERROR] Status server failed", logging.Fields{}, err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error(ctx, "[SHUTDOWN_ERROR] Status server forced to shutdown", logging.Fields{}, err)
			}
		}()
	}

	// City table
	locations, err := cities.Prepare(ctx, client,
		cfg.Cities.ListURL, cfg.Cities.ArchivePath, cfg.Cities.CSVPath,
		cfg.Cities.CountryCode, cfg.Cities.SkipDownload, logger)
	if err != nil {
		logger.Fatal(ctx, "[CITIES_ERROR] Failed to prepare city table", logging.Fields{
			"country": cfg.Cities.CountryCode,
		}, err)
	}

	// Initialize services
	extractor := services.NewPollutionExtractor(client, cfg.API.Endpoint, cfg.API.Key, logger, metricsCollector)
	builder := services.NewTableBuilder(services.NewValidator(loc, logger), logger, metricsCollector)
	pipeline := services.NewPipelineService(extractor, builder,
		repository.NewMultiSink(logger, csvSink, mirrors...), logger, metricsCollector)

	result := pipeline.RunAll(ctx, locations, cfg.Window.Start, cfg.Window.End)

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("EXTRACTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Locations:      %d\n", result.TotalLocations)
	fmt.Printf("Succeeded:      %d\n", result.Succeeded)
	fmt.Printf("No Data:        %d\n", result.NoData)
	fmt.Printf("No Valid Data:  %d\n", result.NoValidData)
	fmt.Printf("Load Failed:    %d\n", result.LoadFailed)
	fmt.Printf("Rows Written:   %d\n", result.RowsWritten)
	fmt.Printf("Duration:       %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Air quality data extraction has ended", logging.Fields{
		"elapsed_seconds": time.Since(startTime).Seconds(),
	})
}
