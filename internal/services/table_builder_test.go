package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zapcore"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/metrics"
)

func TestTableBuilder_Build(t *testing.T) {
	valid := func(dt float64) models.RawRecord {
		return models.StructuredRecord(map[string]any{"dt": dt, "components": map[string]any{"co": 1.0}})
	}

	tests := []struct {
		name        string
		records     []models.RawRecord
		wantRows    int
		wantReasons map[models.RejectReason]int
		wantWarn    string
	}{
		{
			name:     "no input",
			records:  nil,
			wantWarn: "[TRANSFORM_NO_INPUT] No data to transform - returning empty table",
		},
		{
			name: "all rejected",
			records: []models.RawRecord{
				models.StructuredRecord(map[string]any{"components": map[string]any{}}),
				models.UnparsedRecord("[1,2]"),
			},
			wantReasons: map[models.RejectReason]int{
				models.ReasonMissingTimestamp: 1,
				models.ReasonNotARecord:       1,
			},
			wantWarn: "[TRANSFORM_NO_VALID] No valid records processed - returning empty table",
		},
		{
			name: "mixed",
			records: []models.RawRecord{
				valid(0),
				models.StructuredRecord(map[string]any{"dt": "soon", "components": map[string]any{}}),
				valid(3600),
				models.StructuredRecord(map[string]any{"dt": 1.0, "components": []any{}}),
			},
			wantRows: 2,
			wantReasons: map[models.RejectReason]int{
				models.ReasonInvalidTimestamp:  1,
				models.ReasonInvalidComponents: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newObservedLogger()
			m := metrics.NewCollector("test")
			builder := NewTableBuilder(NewValidator(time.UTC, logger), logger, m)

			table, stats := builder.Build(context.Background(), tt.records)

			if table == nil {
				t.Fatal("table must never be nil")
			}
			if table.Len() != tt.wantRows || stats.Accepted != tt.wantRows {
				t.Errorf("rows = %d, accepted = %d, want %d", table.Len(), stats.Accepted, tt.wantRows)
			}
			if stats.Input != len(tt.records) {
				t.Errorf("input = %d, want %d", stats.Input, len(tt.records))
			}

			total := 0
			for reason, want := range tt.wantReasons {
				total += want
				if stats.Reasons[reason] != want {
					t.Errorf("reasons[%s] = %d, want %d", reason, stats.Reasons[reason], want)
				}
				if v := testutil.ToFloat64(m.RecordsRejectedTotal.WithLabelValues(string(reason))); v != float64(want) {
					t.Errorf("rejected metric[%s] = %v, want %d", reason, v, want)
				}
			}
			if stats.Rejected != total {
				t.Errorf("rejected = %d, want %d", stats.Rejected, total)
			}
			if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != total {
				t.Errorf("error entries = %d, want one per reject (%d)", n, total)
			}

			if tt.wantWarn != "" {
				if n := logs.FilterMessage(tt.wantWarn).Len(); n != 1 {
					t.Errorf("warn %q logged %d times, want 1", tt.wantWarn, n)
				}
			} else if n := logs.FilterMessageSnippet("[TRANSFORM_COMPLETE]").Len(); n != 1 {
				t.Errorf("completion entries = %d, want 1", n)
			}
		})
	}
}

func TestTableBuilder_BuildContinuesPastUnexpectedFailure(t *testing.T) {
	logger, logs := newObservedLogger()
	m := metrics.NewCollector("test")
	// without a zone every well-formed record fails while rendering its timestamp
	builder := NewTableBuilder(&Validator{logger: logger}, logger, m)

	records := []models.RawRecord{
		models.StructuredRecord(map[string]any{"dt": 1735689600.0, "components": map[string]any{"co": 1.0}}),
		models.StructuredRecord(map[string]any{"dt": 1735693200.0}),
		models.UnparsedRecord(`"text"`),
	}
	table, stats := builder.Build(context.Background(), records)

	if table == nil || !table.Empty() {
		t.Fatalf("table = %+v, want empty", table)
	}
	want := map[models.RejectReason]int{
		models.ReasonUnexpected:        1,
		models.ReasonMissingComponents: 1,
		models.ReasonNotARecord:        1,
	}
	if stats.Input != 3 || stats.Rejected != 3 {
		t.Errorf("input = %d, rejected = %d, want 3, 3", stats.Input, stats.Rejected)
	}
	for reason, n := range want {
		if stats.Reasons[reason] != n {
			t.Errorf("reasons[%s] = %d, want %d", reason, stats.Reasons[reason], n)
		}
	}
	if n := logs.FilterMessage("[VALIDATE_REJECT] Record rejected").Len(); n != 3 {
		t.Errorf("reject entries = %d, want 3", n)
	}
}
