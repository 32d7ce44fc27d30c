package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidKey is returned when a key or field set does not match the kind's columns.
	ErrInvalidKey = errors.New("invalid metric key")
	// ErrValueTooLong is returned when a string column exceeds the kind's declared limit.
	// Over-long values are rejected, never truncated.
	ErrValueTooLong = errors.New("value exceeds column limit")
	// ErrConflict is returned when a create lost a uniqueness race and the
	// follow-up update could not find the winning row either.
	ErrConflict = errors.New("metric record conflict")
	// ErrUnavailable wraps backend failures: connection, begin or commit.
	ErrUnavailable = errors.New("metric store unavailable")
)

// Fields maps column names to values.
type Fields map[string]any

// Kind describes one record kind: the table it lives in, the columns that form
// its natural key and the value columns that may be written.
type Kind struct {
	Name   string
	Table  string
	Key    []string
	Values []string
	// Limits caps string columns by character count.
	Limits map[string]int
	// Optional key columns default to "" so the uniqueness constraint covers them.
	Optional []string
}

// Record is one stored row.
type Record struct {
	ID     int64
	Kind   string
	Key    Fields
	Values Fields
}

var (
	// Results holds serialized handler output per frame.
	Results = Kind{
		Name:     "result",
		Table:    "frame_results",
		Key:      []string{"experiment", "frame_index", "trace"},
		Values:   []string{"value"},
		Optional: []string{"trace"},
	}
	// Latencies holds per-frame processing latency.
	Latencies = Kind{
		Name:   "latency",
		Table:  "frame_latencies",
		Key:    []string{"experiment", "frame_index"},
		Values: []string{"value", "latency_ms", "finished_at"},
	}
	// ResourceLatencies holds latency tagged with the resources the run was given.
	ResourceLatencies = Kind{
		Name:     "resource_latency",
		Table:    "resource_latencies",
		Key:      []string{"experiment", "trace", "frame_index", "cpu", "memory"},
		Values:   []string{"latency_ms", "finished_at"},
		Optional: []string{"trace", "cpu", "memory"},
	}
	// DataStats holds arbitrary named statistics such as frame hashes.
	DataStats = Kind{
		Name:     "datastat",
		Table:    "data_stats",
		Key:      []string{"app", "trace", "name"},
		Values:   []string{"value"},
		Optional: []string{"trace"},
		Limits: map[string]int{
			"app":   512,
			"trace": 512,
			"name":  512,
			"value": 8192,
		},
	}
)

// Kinds lists every record kind, in schema order.
var Kinds = []Kind{Results, Latencies, ResourceLatencies, DataStats}

// KindByName looks up a kind by its Name.
func KindByName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// Columns returns key columns followed by value columns.
func (k Kind) Columns() []string {
	cols := make([]string, 0, len(k.Key)+len(k.Values))
	cols = append(cols, k.Key...)
	return append(cols, k.Values...)
}

func (k Kind) isOptional(col string) bool {
	for _, c := range k.Optional {
		if c == col {
			return true
		}
	}
	return false
}

func (k Kind) isValue(col string) bool {
	for _, c := range k.Values {
		if c == col {
			return true
		}
	}
	return false
}

// normalizeKey validates key against the kind and returns a copy with optional
// parts defaulted and integers widened to int64.
func (k Kind) normalizeKey(key Fields) (Fields, error) {
	out := make(Fields, len(k.Key))
	for _, col := range k.Key {
		v, ok := key[col]
		if !ok || v == nil {
			if !k.isOptional(col) {
				return nil, fmt.Errorf("%w: %s is missing %q", ErrInvalidKey, k.Name, col)
			}
			v = ""
		}
		if s, ok := v.(string); ok && strings.ContainsRune(s, 0) {
			return nil, fmt.Errorf("%w: %s.%s contains a NUL byte", ErrInvalidKey, k.Name, col)
		}
		out[col] = widen(v)
	}
	for col := range key {
		if _, ok := out[col]; !ok {
			return nil, fmt.Errorf("%w: %s has no key column %q", ErrInvalidKey, k.Name, col)
		}
	}
	if err := k.checkLimits(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkFields ensures every field is a value column of the kind and within limits.
func (k Kind) checkFields(fields Fields) error {
	for col := range fields {
		if !k.isValue(col) {
			return fmt.Errorf("%w: %s has no value column %q", ErrInvalidKey, k.Name, col)
		}
	}
	return k.checkLimits(fields)
}

func (k Kind) checkLimits(cols Fields) error {
	for col, limit := range k.Limits {
		s, ok := cols[col].(string)
		if !ok {
			continue
		}
		if n := utf8.RuneCountInString(s); n > limit {
			return fmt.Errorf("%w: %s.%s is %d characters, limit %d", ErrValueTooLong, k.Name, col, n, limit)
		}
	}
	return nil
}

// fieldOrder returns the columns of fields in the kind's declared order.
func (k Kind) fieldOrder(fields Fields) []string {
	cols := make([]string, 0, len(fields))
	for _, col := range k.Values {
		if _, ok := fields[col]; ok {
			cols = append(cols, col)
		}
	}
	return cols
}

// keyString renders a normalized key as a map key. String parts are quoted
// so no two distinct keys share a rendering.
func (k Kind) keyString(key Fields) string {
	parts := make([]string, len(k.Key))
	for i, col := range k.Key {
		if s, ok := key[col].(string); ok {
			parts[i] = strconv.Quote(s)
		} else {
			parts[i] = fmt.Sprint(key[col])
		}
	}
	return strings.Join(parts, ",")
}

func widen(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return v
}

func (r Record) with(fields Fields) Record {
	values := make(Fields, len(r.Values)+len(fields))
	for k, v := range r.Values {
		values[k] = v
	}
	for k, v := range fields {
		values[k] = widen(v)
	}
	r.Values = values
	return r
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
