// v0
// internal/canonical/canonical_test.go
package canonical

import (
	"math"
	"testing"
)

func TestEncodeSortsObjectKeys(t *testing.T) {
	a, err := FromJSON([]byte(`{"temperature":21.5,"deviceId":"TEMP_001","timestamp":1700000000}`))
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := FromJSON([]byte(`{"timestamp":1700000000,"deviceId":"TEMP_001","temperature":21.5}`))
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	ea, err := Encode(a)
	if err != nil {
		t.Fatalf("encode a: %v", err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatalf("encode b: %v", err)
	}
	if string(ea) != string(eb) {
		t.Fatalf("encodings differ:\n%s\n%s", ea, eb)
	}
	want := `{"deviceId":"TEMP_001","temperature":21.5,"timestamp":1700000000}`
	if string(ea) != want {
		t.Fatalf("unexpected canonical form: got %s want %s", ea, want)
	}
}

func TestEncodeNestedAndArrays(t *testing.T) {
	v, err := FromJSON([]byte(`{"b":[3,1,2],"a":{"y":null,"x":true}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Array order is semantic and must be preserved; only object keys sort.
	want := `{"a":{"x":true,"y":null},"b":[3,1,2]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestNumberLiteralsPreserved(t *testing.T) {
	cases := []string{`1e6`, `0.5`, `-12`, `21.50`, `1700000000`}
	for _, c := range cases {
		v, err := FromJSON([]byte(c))
		if err != nil {
			t.Fatalf("parse %s: %v", c, err)
		}
		got, err := Encode(v)
		if err != nil {
			t.Fatalf("encode %s: %v", c, err)
		}
		if string(got) != c {
			t.Fatalf("literal not preserved: got %s want %s", got, c)
		}
	}
}

func TestSemanticDifferencesChangeBytes(t *testing.T) {
	base := `{"a":1,"b":"x"}`
	variants := []string{
		`{"a":2,"b":"x"}`,   // value change
		`{"a":"1","b":"x"}`, // type change
		`{"a":1}`,           // key set change
	}
	bv, _ := FromJSON([]byte(base))
	eb, _ := Encode(bv)
	for _, raw := range variants {
		v, err := FromJSON([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		ev, err := Encode(v)
		if err != nil {
			t.Fatalf("encode %s: %v", raw, err)
		}
		if string(ev) == string(eb) {
			t.Fatalf("variant %s collided with base encoding", raw)
		}
	}
}

func TestStringEscaping(t *testing.T) {
	v := Object().Set("msg", String("line1\nline2\t\"quoted\" \\ <html>"))
	got, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"msg":"line1\nline2\t\"quoted\" \\ <html>"}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestEncodingErrors(t *testing.T) {
	if _, err := Float(math.NaN()); err == nil {
		t.Fatal("expected error for NaN")
	}
	if _, err := Float(math.Inf(1)); err == nil {
		t.Fatal("expected error for +Inf")
	}
	if _, err := Encode(Object().Set("s", String("\xff\xfe"))); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
	if _, err := FromJSON([]byte(`{"a":1} trailing`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
	if _, err := FromJSON([]byte(`{`)); err == nil {
		t.Fatal("expected error for truncated input")
	}
}

func TestTimestampExtraction(t *testing.T) {
	v, err := FromJSON([]byte(`{"timestamp":1700000123,"temperature":20}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ts, ok := v.Get("timestamp").Int64()
	if !ok || ts != 1700000123 {
		t.Fatalf("timestamp extraction failed: %d %v", ts, ok)
	}
	if _, ok := v.Get("temperature").Int64(); !ok {
		t.Fatal("whole number should read as integer")
	}
	frac, _ := FromJSON([]byte(`{"timestamp":17.5}`))
	if _, ok := frac.Get("timestamp").Int64(); ok {
		t.Fatal("fractional timestamp must not read as integer")
	}
}
