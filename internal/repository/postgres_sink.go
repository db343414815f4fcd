package repository

import (
	"context"
	"fmt"
	"time"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/database"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// measurementRow is the air_quality_measurements row shape
type measurementRow struct {
	Location   string    `db:"location"`
	MeasuredAt time.Time `db:"measured_at"`
	CO         *float64  `db:"co"`
	NO         *float64  `db:"no"`
	NO2        *float64  `db:"no2"`
	O3         *float64  `db:"o3"`
	SO2        *float64  `db:"so2"`
	PM2_5      *float64  `db:"pm2_5"`
	PM10       *float64  `db:"pm10"`
	NH3        *float64  `db:"nh3"`
	CreatedAt  time.Time `db:"created_at"`
}

const (
	deleteLocationSQL = `DELETE FROM air_quality_measurements WHERE location = $1`

	insertMeasurementSQL = `
		INSERT INTO air_quality_measurements (
			location, measured_at, co, no, no2, o3, so2, pm2_5, pm10, nh3, created_at
		)
		VALUES (
			:location, :measured_at, :co, :no, :no2, :o3, :so2, :pm2_5, :pm10, :nh3, :created_at
		)
		ON CONFLICT (location, measured_at) DO NOTHING`
)

// PostgresSink mirrors tables into PostgreSQL, replacing a location's rows
type PostgresSink struct {
	db        *database.PostgresDB
	loc       *time.Location
	batchSize int
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewPostgresSink creates a sink; loc is the zone the Date column was rendered in
func NewPostgresSink(db *database.PostgresDB, loc *time.Location, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PostgresSink {
	return &PostgresSink{
		db:        db,
		loc:       loc,
		batchSize: 1000,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Persist replaces every stored row for identifier in one transaction
func (s *PostgresSink) Persist(ctx context.Context, table *models.Table, identifier string) (string, error) {
	if table.Empty() {
		s.logger.Warn(ctx, "[SINK_PG_EMPTY] Table is empty - not writing to database", logging.Fields{
			"identifier": identifier,
		})
		return "", nil
	}

	rows, err := toMeasurementRows(table, identifier, s.loc, time.Now().UTC())
	if err != nil {
		s.metrics.RecordSinkError("postgres")
		return "", err
	}

	if err := s.replace(ctx, identifier, rows); err != nil {
		s.metrics.RecordSinkError("postgres")
		return "", err
	}

	s.metrics.RecordWrite("postgres", len(rows))
	target := "postgres://air_quality_measurements?location=" + identifier
	s.logger.Info(ctx, "[SINK_PG_SAVED] Saved air quality data", logging.Fields{
		"target": target,
		"rows":   len(rows),
	})

	return target, nil
}

func (s *PostgresSink) replace(ctx context.Context, identifier string, rows []measurementRow) (err error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	started := time.Now()
	_, err = tx.ExecContext(ctx, deleteLocationSQL, identifier)
	s.db.Observe(ctx, "delete_location", started, err)
	if err != nil {
		return fmt.Errorf("failed to clear location: %w", err)
	}

	for i := 0; i < len(rows); i += s.batchSize {
		end := i + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		started = time.Now()
		_, err = tx.NamedExecContext(ctx, insertMeasurementSQL, rows[i:end])
		s.db.Observe(ctx, "insert_measurements", started, err)
		if err != nil {
			return fmt.Errorf("failed to insert measurements: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toMeasurementRows(table *models.Table, identifier string, loc *time.Location, now time.Time) ([]measurementRow, error) {
	rows := make([]measurementRow, 0, table.Len())
	for i, r := range table.Rows {
		ts, err := r.Time(loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, measurementRow{
			Location:   identifier,
			MeasuredAt: ts,
			CO:         r.CO,
			NO:         r.NO,
			NO2:        r.NO2,
			O3:         r.O3,
			SO2:        r.SO2,
			PM2_5:      r.PM2_5,
			PM10:       r.PM10,
			NH3:        r.NH3,
			CreatedAt:  now,
		})
	}
	return rows, nil
}
