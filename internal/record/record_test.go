package record

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      Key
		wantField string
	}{
		{"full record", `{"hw":"H100","tp":1,"conc":8,"tput_per_gpu":10.0}`, Key{HW: "H100", TP: 1, Conc: 8}, ""},
		{"float lexeme same key", `{"hw":"H100","tp":1.0,"conc":8}`, Key{HW: "H100", TP: 1, Conc: 8}, ""},
		{"missing hw", `{"tp":1,"conc":8}`, Key{}, FieldHW},
		{"missing tp", `{"hw":"H100","conc":8}`, Key{}, FieldTP},
		{"missing conc", `{"hw":"H100","tp":1}`, Key{}, FieldConc},
		{"hw not string", `{"hw":100,"tp":1,"conc":8}`, Key{}, FieldHW},
		{"tp not number", `{"hw":"H100","tp":"1","conc":8}`, Key{}, FieldTP},
		{"not an object", `[1,2,3]`, Key{}, FieldHW},
		{"null element", `null`, Key{}, FieldHW},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New([]byte(tt.raw)).Key()
			if tt.wantField != "" {
				var se *SchemaError
				if !errors.As(err, &se) {
					t.Fatalf("Key() error = %v, want *SchemaError", err)
				}
				if se.Field != tt.wantField {
					t.Errorf("SchemaError.Field = %q, want %q", se.Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("Key(): %v", err)
			}
			if got != tt.want {
				t.Errorf("Key() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	k := Key{HW: "B200", TP: 4, Conc: 64}
	if got, want := k.String(), "hw=B200, tp=4, conc=64"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestWithReplacesInPlace(t *testing.T) {
	r := New([]byte(`{"hw":"H100","tput_per_gpu":10.0,"extra":"x","median_intvty":5.0}`))

	out, err := r.With(FieldTput, []byte("12.5"))
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	want := `{"hw":"H100","tput_per_gpu":12.5,"extra":"x","median_intvty":5.0}`
	if string(out.Raw()) != want {
		t.Errorf("With() = %s, want %s", out.Raw(), want)
	}

	// Original is untouched.
	if got := r.Metric(FieldTput); got.Value != 10.0 {
		t.Errorf("original tput_per_gpu = %v, want 10", got.Value)
	}
}

func TestWithAppendsMissingField(t *testing.T) {
	r := New([]byte(`{"hw":"H100"}`))
	out, err := r.With(FieldIntvty, []byte("4.2"))
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if m := out.Metric(FieldIntvty); !m.Valid || m.Value != 4.2 {
		t.Errorf("median_intvty = %+v, want 4.2", m)
	}
}

func TestWithEmptyValue(t *testing.T) {
	if _, err := New([]byte(`{}`)).With(FieldTput, nil); err == nil {
		t.Error("With(nil) should fail")
	}
}

func TestMetric(t *testing.T) {
	r := New([]byte(`{"a":1.234,"b":"fast","c":null}`))

	if m := r.Metric("a"); !m.Valid || m.String() != "1.23" {
		t.Errorf("Metric(a) = %+v (%s), want 1.23", m, m)
	}
	for _, f := range []string{"b", "c", "missing"} {
		m := r.Metric(f)
		if m.Valid {
			t.Errorf("Metric(%s).Valid = true, want false", f)
		}
		if m.String() != "N/A" {
			t.Errorf("Metric(%s).String() = %q, want N/A", f, m.String())
		}
		if m.Ptr() != nil {
			t.Errorf("Metric(%s).Ptr() = %v, want nil", f, *m.Ptr())
		}
	}
}

func TestParseArray(t *testing.T) {
	records, err := ParseArray([]byte(`[{"hw":"H100","tp":1,"conc":8}, {"hw":"H200","tp":2,"conc":16}]`))
	if err != nil {
		t.Fatalf("ParseArray: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	k, err := records[1].Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k.HW != "H200" {
		t.Errorf("records[1].HW = %q, want H200", k.HW)
	}

	empty, err := ParseArray([]byte(`[]`))
	if err != nil {
		t.Fatalf("ParseArray([]): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len = %d, want 0", len(empty))
	}
}

func TestParseArrayRejects(t *testing.T) {
	for _, in := range []string{`{"hw":"H100"}`, `null`, `[{"hw":`, ``, `42`} {
		if _, err := ParseArray([]byte(in)); err == nil {
			t.Errorf("ParseArray(%q) succeeded, want error", in)
		}
	}
}

func TestMarshalKeepsRawBytes(t *testing.T) {
	in := `[{"z":1,"hw":"H100","tp":1,"conc":8,"tput_per_gpu":10.0}]`
	records, err := ParseArray([]byte(in))
	if err != nil {
		t.Fatalf("ParseArray: %v", err)
	}
	out, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("Marshal = %s, want %s", out, in)
	}
}

func TestSchemaErrorMessage(t *testing.T) {
	err := &SchemaError{Collection: "candidate", Index: 3, Field: FieldConc, Reason: "missing"}
	if got, want := err.Error(), `candidate record 3: field "conc": missing`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
