package services

import (
	"context"
	"errors"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// TableBuilder folds raw records into a table, skipping rejects
type TableBuilder struct {
	validator *Validator
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// BuildStats contains per-batch validation counts
type BuildStats struct {
	Input    int
	Accepted int
	Rejected int
	Reasons  map[models.RejectReason]int
}

// NewTableBuilder creates a new table builder
func NewTableBuilder(validator *Validator, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TableBuilder {
	return &TableBuilder{
		validator: validator,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Build normalizes records in order. The returned table is never nil; it is
// empty when there was no input or nothing survived validation.
func (b *TableBuilder) Build(ctx context.Context, records []models.RawRecord) (*models.Table, BuildStats) {
	stats := BuildStats{
		Input:   len(records),
		Reasons: make(map[models.RejectReason]int),
	}

	b.logger.Info(ctx, "[TRANSFORM_START] Transforming records", logging.Fields{
		"record_count": len(records),
	})

	if len(records) == 0 {
		b.logger.Warn(ctx, "[TRANSFORM_NO_INPUT] No data to transform - returning empty table", logging.Fields{})
		return &models.Table{}, stats
	}

	b.logger.Debug(ctx, "[TRANSFORM_FIRST] First record", logging.Fields{
		"kind":   records[0].Kind.String(),
		"record": records[0].Payload(),
	})

	table := &models.Table{Rows: make([]models.NormalizedRow, 0, len(records))}
	for i, rec := range records {
		row, err := b.validator.Normalize(ctx, rec, i)
		if err != nil {
			reason := models.ReasonUnexpected
			var rej *models.RejectError
			if errors.As(err, &rej) {
				reason = rej.Reason
			}
			stats.Rejected++
			stats.Reasons[reason]++
			b.metrics.RecordReject(string(reason))
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	stats.Accepted = table.Len()
	b.metrics.RecordsAcceptedTotal.Add(float64(stats.Accepted))

	if table.Empty() {
		b.logger.Warn(ctx, "[TRANSFORM_NO_VALID] No valid records processed - returning empty table", logging.Fields{
			"rejected": stats.Rejected,
		})
		return &models.Table{}, stats
	}

	b.logger.Info(ctx, "[TRANSFORM_COMPLETE] Successfully transformed records", logging.Fields{
		"accepted": stats.Accepted,
		"rejected": stats.Rejected,
	})

	return table, stats
}
