package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampLayout is how the Date column renders a measurement time.
const TimestampLayout = "2006-01-02 15:04:05"

// Columns is the fixed output schema, in file order.
var Columns = []string{"Date", "co", "no", "no2", "o3", "so2", "pm2_5", "pm10", "nh3"}

// Pollutants are the component keys read from each record, in column order.
var Pollutants = Columns[1:]

// RecordKind tags which variant of RawRecord is populated.
type RecordKind int

const (
	RecordStructured RecordKind = iota
	RecordUnparsed
	RecordOther
)

func (k RecordKind) String() string {
	switch k {
	case RecordStructured:
		return "structured"
	case RecordUnparsed:
		return "unparsed"
	default:
		return "other"
	}
}

// RawRecord is one element of the API "list" array before validation.
// Exactly one of Fields, Text or Value is meaningful, selected by Kind.
type RawRecord struct {
	Kind   RecordKind
	Fields map[string]any
	Text   string
	Value  any
}

// StructuredRecord wraps an already decoded mapping.
func StructuredRecord(fields map[string]any) RawRecord {
	return RawRecord{Kind: RecordStructured, Fields: fields}
}

// UnparsedRecord wraps a record that arrived as serialized text.
func UnparsedRecord(text string) RawRecord {
	return RawRecord{Kind: RecordUnparsed, Text: text}
}

// NewRawRecord classifies one raw JSON element of the response list.
func NewRawRecord(msg json.RawMessage) RawRecord {
	v, err := decodeJSON(msg)
	if err != nil {
		return UnparsedRecord(string(msg))
	}
	return RecordFromValue(v)
}

// RecordFromValue classifies a decoded JSON value.
func RecordFromValue(v any) RawRecord {
	switch t := v.(type) {
	case map[string]any:
		return StructuredRecord(t)
	case string:
		return UnparsedRecord(t)
	default:
		return RawRecord{Kind: RecordOther, Value: v}
	}
}

// Payload returns whatever the record carries, for logging.
func (r RawRecord) Payload() any {
	switch r.Kind {
	case RecordStructured:
		return r.Fields
	case RecordUnparsed:
		return r.Text
	default:
		return r.Value
	}
}

// NormalizedRow is one validated output row. A nil pollutant means the
// reading was absent; zero is a real concentration.
type NormalizedRow struct {
	Date  string   `json:"date"`
	CO    *float64 `json:"co"`
	NO    *float64 `json:"no"`
	NO2   *float64 `json:"no2"`
	O3    *float64 `json:"o3"`
	SO2   *float64 `json:"so2"`
	PM2_5 *float64 `json:"pm2_5"`
	PM10  *float64 `json:"pm10"`
	NH3   *float64 `json:"nh3"`

	// At is the measurement instant; zero when the row was read back from a file.
	At time.Time `json:"-"`
}

// Values returns the pollutant fields in column order.
func (r NormalizedRow) Values() []*float64 {
	return []*float64{r.CO, r.NO, r.NO2, r.O3, r.SO2, r.PM2_5, r.PM10, r.NH3}
}

func (r *NormalizedRow) fields() []**float64 {
	return []**float64{&r.CO, &r.NO, &r.NO2, &r.O3, &r.SO2, &r.PM2_5, &r.PM10, &r.NH3}
}

// Time returns the measurement instant in loc, parsing the Date column when At is unset.
// A parsed Date is ambiguous in the repeated hour of a DST fall-back.
func (r NormalizedRow) Time(loc *time.Location) (time.Time, error) {
	if !r.At.IsZero() {
		return r.At.In(loc), nil
	}
	return time.ParseInLocation(TimestampLayout, r.Date, loc)
}

// Cells renders the row for a delimited file; absent values become empty cells.
func (r NormalizedRow) Cells() []string {
	cells := make([]string, 0, len(Columns))
	cells = append(cells, r.Date)
	for _, v := range r.Values() {
		if v == nil {
			cells = append(cells, "")
			continue
		}
		cells = append(cells, strconv.FormatFloat(*v, 'f', -1, 64))
	}
	return cells
}

// ParseCells is the inverse of Cells.
func ParseCells(cells []string) (NormalizedRow, error) {
	if len(cells) != len(Columns) {
		return NormalizedRow{}, fmt.Errorf("expected %d cells, got %d", len(Columns), len(cells))
	}

	row := NormalizedRow{Date: cells[0]}
	if _, err := time.Parse(TimestampLayout, row.Date); err != nil {
		return NormalizedRow{}, fmt.Errorf("invalid Date %q: %w", row.Date, err)
	}

	for i, dst := range row.fields() {
		cell := cells[i+1]
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return NormalizedRow{}, fmt.Errorf("invalid %s value %q: %w", Pollutants[i], cell, err)
		}
		*dst = &v
	}
	return row, nil
}

// Table is an ordered set of rows sharing the Columns schema.
type Table struct {
	Rows []NormalizedRow
}

// Len is safe on a nil table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Times parses every Date cell in order.
func (t *Table) Times(loc *time.Location) ([]time.Time, error) {
	if t.Empty() {
		return nil, nil
	}
	out := make([]time.Time, 0, t.Len())
	for i, row := range t.Rows {
		ts, err := row.Time(loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, ts)
	}
	return out, nil
}

// RejectReason classifies why a record was dropped.
type RejectReason string

const (
	ReasonMalformed         RejectReason = "malformed"
	ReasonNotARecord        RejectReason = "not_a_record"
	ReasonMissingTimestamp  RejectReason = "missing_timestamp"
	ReasonMissingComponents RejectReason = "missing_components"
	ReasonInvalidTimestamp  RejectReason = "invalid_timestamp"
	ReasonInvalidComponents RejectReason = "invalid_components"
	ReasonUnexpected        RejectReason = "unexpected"
)

// RejectError describes one dropped record
type RejectError struct {
	Index  int
	Reason RejectReason
	Detail string
	Record any
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("record %d rejected (%s): %s", e.Index, e.Reason, e.Detail)
}

// Normalize validates one raw record and converts it into a row rendered in loc.
// It never panics; anything unexpected becomes a ReasonUnexpected rejection.
func Normalize(rec RawRecord, index int, loc *time.Location) (row NormalizedRow, err error) {
	reject := func(reason RejectReason, detail string, payload any) error {
		return &RejectError{Index: index, Reason: reason, Detail: detail, Record: payload}
	}

	var fields map[string]any
	switch rec.Kind {
	case RecordStructured:
		fields = rec.Fields
		if fields == nil {
			return NormalizedRow{}, reject(ReasonNotARecord, "nil mapping", nil)
		}
	case RecordUnparsed:
		v, perr := decodeJSON([]byte(rec.Text))
		if perr != nil {
			return NormalizedRow{}, reject(ReasonMalformed, perr.Error(), rec.Text)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return NormalizedRow{}, reject(ReasonNotARecord, fmt.Sprintf("parsed to %T", v), rec.Text)
		}
		fields = m
	default:
		return NormalizedRow{}, reject(ReasonNotARecord, fmt.Sprintf("value of type %T", rec.Value), rec.Value)
	}

	defer func() {
		if p := recover(); p != nil {
			row = NormalizedRow{}
			err = reject(ReasonUnexpected, fmt.Sprint(p), fields)
		}
	}()

	dtRaw, ok := fields["dt"]
	if !ok {
		return NormalizedRow{}, reject(ReasonMissingTimestamp, "missing 'dt' field", fields)
	}
	compRaw, ok := fields["components"]
	if !ok {
		return NormalizedRow{}, reject(ReasonMissingComponents, "missing 'components' field", fields)
	}

	dt, ok := unixSeconds(dtRaw)
	if !ok {
		return NormalizedRow{}, reject(ReasonInvalidTimestamp, fmt.Sprintf("'dt' is %T", dtRaw), fields)
	}
	components, ok := compRaw.(map[string]any)
	if !ok {
		return NormalizedRow{}, reject(ReasonInvalidComponents, fmt.Sprintf("'components' is %T", compRaw), fields)
	}

	at := time.Unix(dt, 0).In(loc)
	if y := at.Year(); y < 1 || y > 9999 {
		return NormalizedRow{}, reject(ReasonInvalidTimestamp, fmt.Sprintf("'dt' %d is outside years 1-9999", dt), fields)
	}
	row.Date = at.Format(TimestampLayout)
	row.At = at
	for i, dst := range row.fields() {
		if v, ok := number(components[Pollutants[i]]); ok {
			*dst = &v
		}
	}
	return row, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func unixSeconds(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := number(v)
	if !ok || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
