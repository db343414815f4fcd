package repository

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// Measurement is the InfluxDB measurement air quality points are written to
const Measurement = "air_pollution"

// InfluxSink mirrors tables into an InfluxDB bucket, one point per row
type InfluxSink struct {
	client  influxdb2.Client
	org     string
	bucket  string
	loc     *time.Location
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewInfluxSink creates a sink writing to org/bucket at url
func NewInfluxSink(url, token, org, bucket string, loc *time.Location, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *InfluxSink {
	return &InfluxSink{
		client:  influxdb2.NewClient(url, token),
		org:     org,
		bucket:  bucket,
		loc:     loc,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Close releases the underlying client
func (s *InfluxSink) Close() {
	s.client.Close()
}

// Persist writes every row with at least one present pollutant. Points share
// location and timestamp keys, so rewriting a location overwrites its values.
func (s *InfluxSink) Persist(ctx context.Context, table *models.Table, identifier string) (string, error) {
	if table.Empty() {
		s.logger.Warn(ctx, "[SINK_INFLUX_EMPTY] Table is empty - not writing to InfluxDB", logging.Fields{
			"identifier": identifier,
		})
		return "", nil
	}

	points, err := Points(table, identifier, s.loc)
	if err != nil {
		s.metrics.RecordSinkError("influx")
		return "", err
	}

	writeAPI := s.client.WriteAPIBlocking(s.org, s.bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		s.metrics.RecordSinkError("influx")
		return "", fmt.Errorf("error writing to InfluxDB: %w", err)
	}

	s.metrics.RecordWrite("influx", len(points))
	target := fmt.Sprintf("influx://%s/%s?location=%s", s.org, s.bucket, identifier)
	s.logger.Info(ctx, "[SINK_INFLUX_SAVED] Saved air quality points", logging.Fields{
		"target": target,
		"points": len(points),
	})

	return target, nil
}

// Points maps table rows onto InfluxDB points tagged with location. Absent
// pollutants are left out of a point's fields; rows with none are skipped.
func Points(table *models.Table, identifier string, loc *time.Location) ([]*write.Point, error) {
	points := make([]*write.Point, 0, table.Len())
	for i, row := range table.Rows {
		ts, err := row.Time(loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		fields := make(map[string]interface{})
		for j, v := range row.Values() {
			if v != nil {
				fields[models.Pollutants[j]] = *v
			}
		}
		if len(fields) == 0 {
			continue
		}

		points = append(points, influxdb2.NewPoint(
			Measurement,
			map[string]string{"location": identifier},
			fields,
			ts,
		))
	}
	return points, nil
}
