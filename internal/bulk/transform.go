package bulk

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/quantbase/pgstore/internal/logging"
)

// valueKind drives per-column value coercion, classified from the target's
// declared schema.
type valueKind int

const (
	kindOther valueKind = iota
	kindDate
	kindTimestamp
)

// copySource streams transformed rows into COPY. It holds a single reused
// value buffer, so the transformed batch is never materialized.
type copySource struct {
	rows     [][]any
	kinds    []valueKind
	injectTS bool
	stamp    time.Time
	idx      int
	buf      []any
}

func newCopySource(batch *Batch, kinds []valueKind, injectTS bool) *copySource {
	width := len(batch.Columns)
	if injectTS {
		width++
	}
	return &copySource{
		rows:     batch.Rows,
		kinds:    kinds,
		injectTS: injectTS,
		stamp:    now(),
		idx:      -1,
		buf:      make([]any, width),
	}
}

// Next implements pgx.CopyFromSource.
func (s *copySource) Next() bool {
	s.idx++
	return s.idx < len(s.rows)
}

// Values implements pgx.CopyFromSource.
func (s *copySource) Values() ([]any, error) {
	row := s.rows[s.idx]
	for i, v := range row {
		s.buf[i] = transformValue(v, s.kinds[i])
	}
	if s.injectTS {
		s.buf[len(s.buf)-1] = s.stamp
	}
	return s.buf, nil
}

// Err implements pgx.CopyFromSource.
func (s *copySource) Err() error { return nil }

// transformValue coerces one incoming value for its destination column.
// Missing markers become NULL; strings are normalized for the wire; text
// bound for temporal columns is parsed, with unparseable values mapped to
// NULL rather than failing the batch.
func transformValue(v any, kind valueKind) any {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(val) {
			return nil
		}
		return val
	case float32:
		if math.IsNaN(float64(val)) {
			return nil
		}
		return val
	case string:
		cleaned := cleanString(val)
		if cleaned == "" {
			return nil
		}
		if kind == kindDate || kind == kindTimestamp {
			t, ok := parseTemporal(cleaned)
			if !ok {
				return nil
			}
			if kind == kindDate {
				return truncateToDate(t)
			}
			return t
		}
		return cleaned
	case time.Time:
		if kind == kindDate {
			return truncateToDate(val)
		}
		return val
	default:
		return v
	}
}

// cleanString strips NUL, CR, and LF, and collapses runs of tabs to a
// single space. Quotes pass through untouched: COPY handles them.
func cleanString(s string) string {
	if !strings.ContainsAny(s, "\x00\r\n\t") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	inTab := false
	for _, r := range s {
		switch r {
		case 0, '\r', '\n':
			continue
		case '\t':
			if !inTab {
				sb.WriteByte(' ')
				inTab = true
			}
		default:
			inTab = false
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// temporalFormats are tried in order: compact and ISO dates first, then
// datetime with optional fractional seconds, then RFC3339 as the generic
// fallback.
var temporalFormats = []string{
	"20060102",
	"2006-01-02",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	time.RFC3339,
}

func parseTemporal(s string) (time.Time, bool) {
	for _, layout := range temporalFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseRowCount parses a driver row-count report defensively. Accepted
// forms: "COPY n", "INSERT 0 n", or a raw integer. Unknown forms log a
// warning and count as 0 rather than raising.
func ParseRowCount(tag string) int64 {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return 0
	}
	if n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil {
		return n
	}
	logging.Warn("unrecognized command tag %q, assuming 0 rows", tag)
	return 0
}
