package services

import (
	"context"
	"errors"
	"time"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
)

// Validator normalizes raw records and logs every rejection
type Validator struct {
	loc    *time.Location
	logger *logging.StructuredLogger
}

// NewValidator creates a validator rendering timestamps in loc
func NewValidator(loc *time.Location, logger *logging.StructuredLogger) *Validator {
	if loc == nil {
		loc = time.Local
	}
	return &Validator{
		loc:    loc,
		logger: logger,
	}
}

// Normalize validates one record. A non-nil error is always a *models.RejectError.
func (v *Validator) Normalize(ctx context.Context, rec models.RawRecord, index int) (models.NormalizedRow, error) {
	if rec.Kind == models.RecordUnparsed {
		v.logger.Warn(ctx, "[VALIDATE_PARSE] Record is serialized text, attempting to parse", logging.Fields{
			"index": index,
		})
	}

	row, err := models.Normalize(rec, index, v.loc)
	if err == nil {
		return row, nil
	}

	fields := logging.Fields{
		"index":  index,
		"kind":   rec.Kind.String(),
		"record": rec.Payload(),
	}
	var rej *models.RejectError
	if errors.As(err, &rej) {
		fields["reason"] = string(rej.Reason)
	}
	v.logger.Error(ctx, "[VALIDATE_REJECT] Record rejected", fields, err)

	return models.NormalizedRow{}, err
}
