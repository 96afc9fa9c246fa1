package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Field names of a benchmark record.
const (
	FieldHW     = "hw"
	FieldTP     = "tp"
	FieldConc   = "conc"
	FieldTput   = "tput_per_gpu"
	FieldIntvty = "median_intvty"
)

// Record is one benchmark entry. It keeps the raw JSON object it was decoded
// from so that fields the merge does not touch keep their order and their
// exact numeric text when written back out.
type Record struct {
	raw []byte
}

// New wraps raw JSON as a Record. The bytes are copied.
func New(raw []byte) Record {
	return Record{raw: bytes.Clone(raw)}
}

// Raw returns the record's JSON bytes.
func (r Record) Raw() json.RawMessage {
	return json.RawMessage(r.raw)
}

// MarshalJSON returns the record's JSON unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON stores a copy of data. The shape is checked later by Key,
// so a non-object element surfaces as a SchemaError rather than a parse error.
func (r *Record) UnmarshalJSON(data []byte) error {
	r.raw = bytes.Clone(data)
	return nil
}

// Get returns the top-level field with the given name.
func (r Record) Get(field string) gjson.Result {
	return gjson.GetBytes(r.raw, field)
}

// Metric returns a numeric field. Missing or non-numeric values are not Valid.
func (r Record) Metric(field string) Metric {
	v := r.Get(field)
	if v.Type != gjson.Number {
		return Metric{}
	}
	return Metric{Value: v.Num, Valid: true}
}

// Key extracts the composite (hw, tp, conc) key.
func (r Record) Key() (Key, error) {
	if !gjson.ValidBytes(r.raw) || !gjson.ParseBytes(r.raw).IsObject() {
		return Key{}, &SchemaError{Field: FieldHW, Reason: "record is not a JSON object"}
	}

	hw := r.Get(FieldHW)
	if !hw.Exists() {
		return Key{}, &SchemaError{Field: FieldHW, Reason: "missing"}
	}
	if hw.Type != gjson.String {
		return Key{}, &SchemaError{Field: FieldHW, Reason: fmt.Sprintf("want string, got %s", hw.Type)}
	}

	tp, err := r.number(FieldTP)
	if err != nil {
		return Key{}, err
	}
	conc, err := r.number(FieldConc)
	if err != nil {
		return Key{}, err
	}

	return Key{HW: hw.Str, TP: tp, Conc: conc}, nil
}

func (r Record) number(field string) (float64, error) {
	v := r.Get(field)
	if !v.Exists() {
		return 0, &SchemaError{Field: field, Reason: "missing"}
	}
	if v.Type != gjson.Number {
		return 0, &SchemaError{Field: field, Reason: fmt.Sprintf("want number, got %s", v.Type)}
	}
	return v.Num, nil
}

// With returns a copy of r whose field is set to the raw JSON value.
// Existing fields are replaced where they stand; new ones are appended.
func (r Record) With(field string, value []byte) (Record, error) {
	if len(value) == 0 {
		return Record{}, errors.New("record: empty value for " + field)
	}
	out, err := sjson.SetRawBytes(bytes.Clone(r.raw), field, value)
	if err != nil {
		return Record{}, fmt.Errorf("record: set %s: %w", field, err)
	}
	return Record{raw: out}, nil
}

// ParseArray decodes a JSON array of records.
func ParseArray(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, errors.New("top-level value is null, want an array of records")
	}
	return records, nil
}

// Key identifies a record by hardware, tensor-parallel degree and
// concurrency. It is a comparable value and can be used as a map key.
type Key struct {
	HW   string
	TP   float64
	Conc float64
}

func (k Key) String() string {
	return fmt.Sprintf("hw=%s, tp=%s, conc=%s", k.HW, FormatNumber(k.TP), FormatNumber(k.Conc))
}

// FormatNumber prints whole numbers without a fractional part.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Metric is an optional numeric field value.
type Metric struct {
	Value float64
	Valid bool
}

// String formats the value to two decimals, or "N/A".
func (m Metric) String() string {
	if !m.Valid {
		return "N/A"
	}
	return strconv.FormatFloat(m.Value, 'f', 2, 64)
}

// Ptr returns nil for an absent value.
func (m Metric) Ptr() *float64 {
	if !m.Valid {
		return nil
	}
	v := m.Value
	return &v
}

// SchemaError reports a record that cannot be keyed or merged.
type SchemaError struct {
	Collection string // "official" or "candidate", set by the caller
	Index      int
	Field      string
	Reason     string
}

func (e *SchemaError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s record %d: field %q: %s", e.Collection, e.Index, e.Field, e.Reason)
}
