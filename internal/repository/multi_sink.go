package repository

import (
	"context"
	"errors"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
)

// MultiSink writes to a primary sink and then to every mirror. The primary's
// path is the artifact; a mirror failure does not undo the primary write.
type MultiSink struct {
	primary TableSink
	mirrors []TableSink
	logger  *logging.StructuredLogger
}

// NewMultiSink composes primary with mirrors
func NewMultiSink(logger *logging.StructuredLogger, primary TableSink, mirrors ...TableSink) *MultiSink {
	return &MultiSink{
		primary: primary,
		mirrors: mirrors,
		logger:  logger,
	}
}

// Persist writes to the primary sink first. If it fails the mirrors are not
// tried. Mirror errors are joined and returned alongside the primary path.
func (m *MultiSink) Persist(ctx context.Context, table *models.Table, identifier string) (string, error) {
	path, err := m.primary.Persist(ctx, table, identifier)
	if err != nil {
		return "", err
	}

	var errs []error
	for _, mirror := range m.mirrors {
		if _, err := mirror.Persist(ctx, table, identifier); err != nil {
			m.logger.Error(ctx, "[SINK_MIRROR_ERROR] Mirror write failed", logging.Fields{
				"identifier": identifier,
			}, err)
			errs = append(errs, err)
		}
	}

	return path, errors.Join(errs...)
}
