package bulk

import (
	"math"
	"testing"
	"time"
)

func TestCleanString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"nul stripped", "he\x00llo", "hello"},
		{"crlf stripped", "line1\r\nline2", "line1line2"},
		{"tab to space", "a\tb", "a b"},
		{"tab run collapsed", "a\t\t\tb", "a b"},
		{"quotes untouched", `he said "hi"`, `he said "hi"`},
		{"only control chars", "\r\n\x00", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanString(tt.in); got != tt.want {
				t.Errorf("cleanString(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTransformValue(t *testing.T) {
	ts := time.Date(2024, 3, 15, 13, 45, 30, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		kind valueKind
		want any
	}{
		{"nil passes", nil, kindOther, nil},
		{"nan to null", math.NaN(), kindOther, nil},
		{"float kept", 1.5, kindOther, 1.5},
		{"empty string to null", "", kindOther, nil},
		{"control-only string to null", "\r\n", kindOther, nil},
		{"string cleaned", "a\tb\nc", kindOther, "a bc"},
		{"compact date", "20240315", kindDate, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"iso date", "2024-03-15", kindDate, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"datetime into date truncates", "2024-03-15 13:45:30", kindDate, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"datetime into timestamp", "2024-03-15 13:45:30", kindTimestamp, ts},
		{"t-separated datetime", "2024-03-15T13:45:30", kindTimestamp, ts},
		{"fractional seconds", "2024-03-15 13:45:30.250000", kindTimestamp, ts.Add(250 * time.Millisecond)},
		{"unparseable temporal to null", "not-a-date", kindTimestamp, nil},
		{"garbage digits to null", "99999999999", kindDate, nil},
		{"native time into date truncates", ts, kindDate, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"native time into timestamp kept", ts, kindTimestamp, ts},
		{"int passthrough", 42, kindOther, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformValue(tt.in, tt.kind)
			if wantT, ok := tt.want.(time.Time); ok {
				gotT, ok := got.(time.Time)
				if !ok || !gotT.Equal(wantT) {
					t.Errorf("transformValue(%v) = %v, want %v", tt.in, got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("transformValue(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCopySource_InjectsTimestamp(t *testing.T) {
	batch := &Batch{
		Columns: []string{"id", "price"},
		Rows:    [][]any{{1, 10.0}, {2, math.NaN()}},
	}
	src := newCopySource(batch, []valueKind{kindOther, kindOther, kindTimestamp}, true)

	if !src.Next() {
		t.Fatal("expected first row")
	}
	vals, err := src.Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 values with injected timestamp, got %d", len(vals))
	}
	if _, ok := vals[2].(time.Time); !ok {
		t.Errorf("injected timestamp missing, got %T", vals[2])
	}

	if !src.Next() {
		t.Fatal("expected second row")
	}
	vals, _ = src.Values()
	if vals[1] != nil {
		t.Errorf("NaN should become NULL, got %v", vals[1])
	}

	if src.Next() {
		t.Error("expected exhaustion after two rows")
	}
	if src.Err() != nil {
		t.Errorf("unexpected source error: %v", src.Err())
	}
}

func TestCopySource_ReusesBuffer(t *testing.T) {
	batch := &Batch{Columns: []string{"x"}, Rows: [][]any{{1}, {2}}}
	src := newCopySource(batch, []valueKind{kindOther}, false)

	src.Next()
	first, _ := src.Values()
	src.Next()
	second, _ := src.Values()
	if &first[0] != &second[0] {
		t.Error("value buffer must be reused across rows")
	}
}

func TestParseRowCount(t *testing.T) {
	tests := []struct {
		tag  string
		want int64
	}{
		{"COPY 5", 5},
		{"INSERT 0 7", 7},
		{"17", 17},
		{"UPDATE 3", 3},
		{"", 0},
		{"SELECT", 0},
		{"garbage tag", 0},
	}
	for _, tt := range tests {
		if got := ParseRowCount(tt.tag); got != tt.want {
			t.Errorf("ParseRowCount(%q) = %d, want %d", tt.tag, got, tt.want)
		}
	}
}
