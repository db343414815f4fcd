package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

// TableSink persists one location's table
type TableSink interface {
	// Persist writes table under identifier and returns where it went.
	// An empty table is a no-op returning ("", nil).
	Persist(ctx context.Context, table *models.Table, identifier string) (string, error)
}

// CSVSink writes one delimited file per location under a fixed root
type CSVSink struct {
	root    string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewCSVSink creates a sink writing to root
func NewCSVSink(root string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CSVSink {
	return &CSVSink{
		root:    root,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Root is the directory artifacts are written to.
func (s *CSVSink) Root() string {
	return s.root
}

// Path resolves the artifact path for identifier
func (s *CSVSink) Path(identifier string) string {
	return filepath.Join(s.root, ArtifactName(identifier)+".csv")
}

var artifactEscaper = strings.NewReplacer("%", "%25", "/", "%2F", `\`, "%5C")

// ArtifactName maps an identifier to a single path element. Distinct
// identifiers always get distinct names; see ArtifactIdentifier.
func ArtifactName(identifier string) string {
	switch identifier {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(identifier, ".", "%2E")
	}
	return artifactEscaper.Replace(identifier)
}

// ArtifactIdentifier reverses ArtifactName, failing for names it never produces.
func ArtifactIdentifier(name string) (string, error) {
	if name == "%" {
		return "", nil
	}
	identifier, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("invalid artifact name %q: %w", name, err)
	}
	if ArtifactName(identifier) != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return identifier, nil
}

// Persist overwrites the artifact for identifier with table
func (s *CSVSink) Persist(ctx context.Context, table *models.Table, identifier string) (string, error) {
	if table.Empty() {
		s.logger.Warn(ctx, "[SINK_CSV_EMPTY] Table is empty - not saving to CSV", logging.Fields{
			"identifier": identifier,
		})
		return "", nil
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		s.metrics.RecordSinkError("csv")
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := s.Path(identifier)
	if err := writeTable(path, table); err != nil {
		s.metrics.RecordSinkError("csv")
		return "", err
	}

	s.metrics.RecordWrite("csv", table.Len())
	s.logger.Info(ctx, "[SINK_CSV_SAVED] Saved air quality data", logging.Fields{
		"path": path,
		"rows": table.Len(),
	})

	return path, nil
}

func writeTable(path string, table *models.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(file)
	if err := w.Write(models.Columns); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range table.Rows {
		if err := w.Write(row.Cells()); err != nil {
			file.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	return file.Close()
}

// ReadCSV loads an artifact written by CSVSink
func ReadCSV(path string) (*models.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(models.Columns)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range models.Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], col)
		}
	}

	table := &models.Table{}
	for line := 2; ; line++ {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := models.ParseCells(cells)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// ListArtifacts returns the artifact names under root, sorted.
func ListArtifacts(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*.csv"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	sort.Strings(names)
	return names, nil
}
