package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"air-quality-platform/internal/models"
	"air-quality-platform/pkg/logging"
	"air-quality-platform/pkg/metrics"
)

func f(v float64) *float64 { return &v }

func sampleTable() *models.Table {
	return &models.Table{Rows: []models.NormalizedRow{
		{Date: "2025-01-01 00:00:00", CO: f(201.94), NO: f(0), NO2: f(0.77), O3: f(68.66), SO2: f(0.64), PM2_5: f(0.5), PM10: f(0.54), NH3: f(0.12)},
		{Date: "2025-01-01 01:00:00", CO: f(210.3), O3: f(70)},
		{Date: "2025-01-01 02:00:00"},
	}}
}

func newTestSink(t *testing.T) (*CSVSink, *observer.ObservedLogs, *metrics.Collector) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.NewCollector("test")
	return NewCSVSink(filepath.Join(t.TempDir(), "city"), logging.NewWithCore(core, "test", "1.0.0"), m), logs, m
}

func TestCSVSink_RoundTrip(t *testing.T) {
	sink, logs, m := newTestSink(t)
	table := sampleTable()

	path, err := sink.Persist(context.Background(), table, "Manila")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if want := filepath.Join(sink.Root(), "Manila.csv"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wantText := "Date,co,no,no2,o3,so2,pm2_5,pm10,nh3\n" +
		"2025-01-01 00:00:00,201.94,0,0.77,68.66,0.64,0.5,0.54,0.12\n" +
		"2025-01-01 01:00:00,210.3,,,70,,,,\n" +
		"2025-01-01 02:00:00,,,,,,,,\n"
	if string(data) != wantText {
		t.Errorf("file contents:\n%s\nwant:\n%s", data, wantText)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if !reflect.DeepEqual(got, table) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got.Rows, table.Rows)
	}

	if n := logs.FilterMessage("[SINK_CSV_SAVED] Saved air quality data").Len(); n != 1 {
		t.Errorf("saved log entries = %d, want 1", n)
	}
	if v := testutil.ToFloat64(m.RowsWrittenTotal.WithLabelValues("csv")); v != 3 {
		t.Errorf("rows written = %v, want 3", v)
	}
}

func TestCSVSink_EmptyTableIsNoop(t *testing.T) {
	sink, logs, _ := newTestSink(t)

	for _, table := range []*models.Table{nil, {}} {
		path, err := sink.Persist(context.Background(), table, "Cebu")
		if err != nil || path != "" {
			t.Fatalf("Persist(empty) = (%q, %v), want (\"\", nil)", path, err)
		}
	}

	if _, err := os.Stat(sink.Root()); !os.IsNotExist(err) {
		t.Errorf("output root should not be created, stat err = %v", err)
	}
	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 2 {
		t.Errorf("warn entries = %d, want 2", n)
	}
}

func TestCSVSink_Overwrites(t *testing.T) {
	sink, _, _ := newTestSink(t)
	ctx := context.Background()

	if _, err := sink.Persist(ctx, sampleTable(), "Davao"); err != nil {
		t.Fatal(err)
	}
	second := &models.Table{Rows: []models.NormalizedRow{{Date: "2025-02-01 00:00:00", CO: f(1)}}}
	path, err := sink.Persist(ctx, second, "Davao")
	if err != nil {
		t.Fatal(err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Errorf("got %+v, want %+v", got.Rows, second.Rows)
	}
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Manila", "Manila"},
		{"Quezon City", "Quezon City"},
		{"a/b", "a%2Fb"},
		{"a_b", "a_b"},
		{`a\b`, "a%5Cb"},
		{"100%", "100%25"},
		{"a%2Fb", "a%252Fb"},
		{"..", "%2E%2E"},
		{"", "%"},
		{"  ", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ArtifactName(tt.in)
			if got != tt.want {
				t.Errorf("ArtifactName(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if strings.ContainsAny(got, `/\`) {
				t.Errorf("ArtifactName(%q) = %q is not a single path element", tt.in, got)
			}
			back, err := ArtifactIdentifier(got)
			if err != nil || back != tt.in {
				t.Errorf("ArtifactIdentifier(%q) = %q, %v, want %q", got, back, err, tt.in)
			}
		})
	}

	for _, name := range []string{"a/b", "a%zz", "a%20b", "..", "%2e"} {
		if _, err := ArtifactIdentifier(name); err == nil {
			t.Errorf("ArtifactIdentifier(%q) should fail", name)
		}
	}
}

func TestCSVSink_DistinctIdentifiersDoNotCollide(t *testing.T) {
	sink, _, _ := newTestSink(t)
	ctx := context.Background()

	first := &models.Table{Rows: []models.NormalizedRow{{Date: "2025-01-01 00:00:00", CO: f(1)}}}
	second := &models.Table{Rows: []models.NormalizedRow{{Date: "2025-01-01 00:00:00", CO: f(2)}}}
	if _, err := sink.Persist(ctx, first, "a/b"); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Persist(ctx, second, "a_b"); err != nil {
		t.Fatal(err)
	}

	names, err := ListArtifacts(sink.Root())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a%2Fb", "a_b"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	got, err := ReadCSV(sink.Path("a/b"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Errorf("a/b artifact = %+v, want %+v", got.Rows, first.Rows)
	}
}

func TestListArtifacts(t *testing.T) {
	sink, _, _ := newTestSink(t)
	ctx := context.Background()
	for _, id := range []string{"Manila", "Baguio", "Cebu"} {
		if _, err := sink.Persist(ctx, sampleTable(), id); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ListArtifacts(sink.Root())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Baguio", "Cebu", "Manila"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestReadCSV_RejectsUnexpectedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("Date,co,no,no2,o3,so2,pm25,pm10,nh3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(path); err == nil {
		t.Fatal("expected header error")
	}
}

func TestPoints(t *testing.T) {
	loc := time.FixedZone("PHT", 8*3600)
	points, err := Points(sampleTable(), "Manila", loc)
	if err != nil {
		t.Fatal(err)
	}

	// the all-absent row is skipped
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}

	p := points[1]
	if p.Name() != Measurement {
		t.Errorf("measurement = %q, want %q", p.Name(), Measurement)
	}
	if want := time.Date(2025, 1, 1, 1, 0, 0, 0, loc); !p.Time().Equal(want) {
		t.Errorf("time = %v, want %v", p.Time(), want)
	}

	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "location" || tags[0].Value != "Manila" {
		t.Errorf("unexpected tags %+v", tags)
	}

	fields := map[string]interface{}{}
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	if want := map[string]interface{}{"co": 210.3, "o3": 70.0}; !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}

	if n := len(points[0].FieldList()); n != 8 {
		t.Errorf("full row fields = %d, want 8", n)
	}
}

func TestToMeasurementRows(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows, err := toMeasurementRows(sampleTable(), "Manila", time.UTC, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1].NO != nil || rows[1].CO == nil || *rows[1].CO != 210.3 {
		t.Errorf("unexpected row %+v", rows[1])
	}
	if !rows[2].MeasuredAt.Equal(time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("measured_at = %v", rows[2].MeasuredAt)
	}

	bad := &models.Table{Rows: []models.NormalizedRow{{Date: "yesterday"}}}
	if _, err := toMeasurementRows(bad, "Manila", time.UTC, now); err == nil {
		t.Error("expected error for unparseable Date")
	}
}

func TestMirrors_UseInstantOverDate(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	edt := time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC)
	table := &models.Table{Rows: []models.NormalizedRow{
		{Date: "2024-11-03 01:30:00", CO: f(1), At: edt},
		{Date: "2024-11-03 01:30:00", CO: f(2), At: edt.Add(time.Hour)},
	}}

	rows, err := toMeasurementRows(table, "New York", est, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !rows[0].MeasuredAt.Equal(edt) || !rows[1].MeasuredAt.Equal(edt.Add(time.Hour)) {
		t.Errorf("measured_at = %v, %v", rows[0].MeasuredAt, rows[1].MeasuredAt)
	}

	points, err := Points(table, "New York", est)
	if err != nil {
		t.Fatal(err)
	}
	if points[0].Time().Equal(points[1].Time()) {
		t.Errorf("both points share time %v", points[0].Time())
	}
}

type stubSink struct {
	path  string
	err   error
	calls int
}

func (s *stubSink) Persist(context.Context, *models.Table, string) (string, error) {
	s.calls++
	return s.path, s.err
}

func TestMultiSink(t *testing.T) {
	mirrorErr := errors.New("mirror down")

	tests := []struct {
		name        string
		primary     *stubSink
		mirrors     []*stubSink
		wantPath    string
		wantErr     error
		mirrorCalls int
	}{
		{
			name:        "all succeed",
			primary:     &stubSink{path: "data/city/Manila.csv"},
			mirrors:     []*stubSink{{path: "pg"}, {path: "influx"}},
			wantPath:    "data/city/Manila.csv",
			mirrorCalls: 1,
		},
		{
			name:        "mirror failure keeps primary path",
			primary:     &stubSink{path: "data/city/Manila.csv"},
			mirrors:     []*stubSink{{err: mirrorErr}, {path: "influx"}},
			wantPath:    "data/city/Manila.csv",
			wantErr:     mirrorErr,
			mirrorCalls: 1,
		},
		{
			name:        "primary failure skips mirrors",
			primary:     &stubSink{err: os.ErrPermission},
			mirrors:     []*stubSink{{path: "pg"}},
			wantErr:     os.ErrPermission,
			mirrorCalls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirrors := make([]TableSink, len(tt.mirrors))
			for i, m := range tt.mirrors {
				mirrors[i] = m
			}
			sink := NewMultiSink(logging.NewNop(), tt.primary, mirrors...)

			path, err := sink.Persist(context.Background(), sampleTable(), "Manila")
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			for _, m := range tt.mirrors {
				if m.calls != tt.mirrorCalls {
					t.Errorf("mirror calls = %d, want %d", m.calls, tt.mirrorCalls)
				}
			}
		})
	}
}
