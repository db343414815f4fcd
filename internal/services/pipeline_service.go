package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"air-quality-platform/internal/models"
	"air-quality-platform/internal/repository"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

var (
	// ErrNothingProduced is returned when a location stopped before LOAD.
	ErrNothingProduced = errors.New("nothing produced")

	// ErrNoData means the API returned no records for the window.
	ErrNoData = fmt.Errorf("no data: %w", ErrNothingProduced)

	// ErrNoValidData means records were returned but none survived validation.
	ErrNoValidData = fmt.Errorf("no valid data: %w", ErrNothingProduced)

	// ErrLoadFailed wraps a sink failure.
	ErrLoadFailed = errors.New("load failed")
)

// Extractor fetches raw records for one point and window
type Extractor interface {
	Extract(ctx context.Context, lat, lon float64, start, end int64) []models.RawRecord
}

// PipelineService runs extract, transform and load for locations
type PipelineService struct {
	extractor Extractor
	builder   *TableBuilder
	sink      repository.TableSink
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// RunResult contains batch statistics
type RunResult struct {
	TotalLocations int
	Succeeded      int
	NoData         int
	NoValidData    int
	LoadFailed     int
	RowsWritten    int
	Duration       time.Duration
	Errors         []string
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(extractor Extractor, builder *TableBuilder, sink repository.TableSink, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PipelineService {
	return &PipelineService{
		extractor: extractor,
		builder:   builder,
		sink:      sink,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// RunLocation runs one location through the pipeline. It returns the persisted
// table, or nil and an error: ErrNoData or ErrNoValidData (both wrapping
// ErrNothingProduced) when a stage short-circuits, ErrLoadFailed when the
// sink fails.
func (s *PipelineService) RunLocation(ctx context.Context, req models.LocationRequest) (*models.Table, error) {
	log := s.logger.WithFields(logging.Fields{
		"location": req.Identifier,
	})

	timer := s.metrics.NewStageTimer("extract")
	records := s.extractor.Extract(ctx, req.Lat, req.Lon, req.Start, req.End)
	timer.ObserveDuration()

	if len(records) == 0 {
		log.Error(ctx, "[PIPELINE_NO_DATA] No data extracted - stopping", logging.Fields{
			"lat":   req.Lat,
			"lon":   req.Lon,
			"start": req.Start,
			"end":   req.End,
			"stage": "EXTRACT",
		}, nil)
		s.metrics.RecordLocation("no_data")
		return nil, fmt.Errorf("%s: %w", req.Identifier, ErrNoData)
	}

	timer = s.metrics.NewStageTimer("transform")
	table, stats := s.builder.Build(ctx, records)
	timer.ObserveDuration()

	if table.Empty() {
		log.Error(ctx, "[PIPELINE_NO_VALID_DATA] No valid records after transform - stopping", logging.Fields{
			"input":    stats.Input,
			"rejected": stats.Rejected,
			"stage":    "TRANSFORM",
		}, nil)
		s.metrics.RecordLocation("no_valid_data")
		return nil, fmt.Errorf("%s: %w", req.Identifier, ErrNoValidData)
	}

	timer = s.metrics.NewStageTimer("load")
	path, err := s.sink.Persist(ctx, table, req.Identifier)
	timer.ObserveDuration()

	if err != nil {
		log.Error(ctx, "[PIPELINE_LOAD_ERROR] Failed to persist table", logging.Fields{
			"path":  path,
			"rows":  table.Len(),
			"stage": "LOAD",
		}, err)
		s.metrics.RecordLocation("load_failed")
		return nil, fmt.Errorf("%s: %w: %w", req.Identifier, ErrLoadFailed, err)
	}

	log.Info(ctx, "[PIPELINE_DONE] Location processed", logging.Fields{
		"path":     path,
		"rows":     table.Len(),
		"rejected": stats.Rejected,
		"stage":    "DONE",
	})
	s.metrics.RecordLocation("done")

	return table, nil
}

// RunAll runs every location in order over [start, end]. A failing location
// is recorded and the batch moves on.
func (s *PipelineService) RunAll(ctx context.Context, locations []models.Location, start, end int64) *RunResult {
	startTime := time.Now()

	s.logger.Info(ctx, "[RUN_START] Starting air quality extraction", logging.Fields{
		"location_count": len(locations),
		"start":          start,
		"end":            end,
	})

	result := &RunResult{
		TotalLocations: len(locations),
		Errors:         make([]string, 0),
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			s.logger.Warn(ctx, "[RUN_CANCELLED] Run cancelled - skipping remaining locations", logging.Fields{
				"remaining": result.TotalLocations - result.processed(),
			})
			break
		}

		table, err := s.RunLocation(ctx, loc.Request(start, end))
		switch {
		case err == nil:
			result.Succeeded++
			result.RowsWritten += table.Len()
			continue
		case errors.Is(err, ErrNoData):
			result.NoData++
		case errors.Is(err, ErrNoValidData):
			result.NoValidData++
		default:
			result.LoadFailed++
		}
		result.Errors = append(result.Errors, err.Error())
	}

	result.Duration = time.Since(startTime)
	s.metrics.PipelineDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[RUN_COMPLETE] Air quality extraction completed", logging.Fields{
		"total_locations":  result.TotalLocations,
		"succeeded":        result.Succeeded,
		"no_data":          result.NoData,
		"no_valid_data":    result.NoValidData,
		"load_failed":      result.LoadFailed,
		"rows_written":     result.RowsWritten,
		"duration_seconds": result.Duration.Seconds(),
	})

	return result
}

func (r *RunResult) processed() int {
	return r.Succeeded + r.NoData + r.NoValidData + r.LoadFailed
}
