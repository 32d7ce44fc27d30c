package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Backend with the same key, limit and upsert
// semantics as Store. Units of work run one at a time and their writes are
// applied only when fn returns nil.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	tables map[string]map[string]Record
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]Record)}
}

// Do runs fn against a staged view and commits it atomically.
func (m *Memory) Do(ctx context.Context, fn func(Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	w := &memWriter{m: m, nextID: m.nextID, staged: make(map[string]map[string]Record)}
	if err := fn(w); err != nil {
		return err
	}
	for table, rows := range w.staged {
		if m.tables[table] == nil {
			m.tables[table] = make(map[string]Record)
		}
		for k, rec := range rows {
			m.tables[table][k] = rec
		}
	}
	m.nextID = w.nextID
	return nil
}

// Records returns every committed record of a kind ordered by id.
func (m *Memory) Records(kind Kind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.tables[kind.Table]))
	for _, rec := range m.tables[kind.Table] {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

type memWriter struct {
	m      *Memory
	nextID int64
	staged map[string]map[string]Record
}

func (w *memWriter) get(kind Kind, k string) (Record, bool) {
	if rec, ok := w.staged[kind.Table][k]; ok {
		return rec, true
	}
	rec, ok := w.m.tables[kind.Table][k]
	return rec, ok
}

func (w *memWriter) put(kind Kind, rec Record) {
	if w.staged[kind.Table] == nil {
		w.staged[kind.Table] = make(map[string]Record)
	}
	w.staged[kind.Table][kind.keyString(rec.Key)] = rec
}

func (w *memWriter) Upsert(ctx context.Context, kind Kind, key, fields Fields) (Record, bool, error) {
	if err := kind.checkFields(fields); err != nil {
		return Record{}, false, err
	}
	rec, created, err := w.GetOrCreate(ctx, kind, key)
	if err != nil {
		return Record{}, false, err
	}
	rec, err = w.Update(ctx, rec, fields)
	if err != nil {
		return Record{}, false, err
	}
	outcome := "updated"
	if created {
		outcome = "created"
	}
	upsertsTotal.WithLabelValues(kind.Name, outcome).Inc()
	return rec, created, nil
}

func (w *memWriter) GetOrCreate(_ context.Context, kind Kind, key Fields) (Record, bool, error) {
	key, err := kind.normalizeKey(key)
	if err != nil {
		return Record{}, false, err
	}
	if rec, ok := w.get(kind, kind.keyString(key)); ok {
		return rec, false, nil
	}
	w.nextID++
	rec := Record{ID: w.nextID, Kind: kind.Name, Key: key, Values: Fields{}}
	w.put(kind, rec)
	return rec, true, nil
}

func (w *memWriter) Update(_ context.Context, rec Record, fields Fields) (Record, error) {
	kind, ok := KindByName(rec.Kind)
	if !ok {
		return Record{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, rec.Kind)
	}
	if err := kind.checkFields(fields); err != nil {
		return Record{}, err
	}
	cur, ok := w.get(kind, kind.keyString(rec.Key))
	if !ok || cur.ID != rec.ID {
		return Record{}, fmt.Errorf("%w: %s record %d vanished", ErrConflict, kind.Name, rec.ID)
	}
	cur = cur.with(fields)
	w.put(kind, cur)
	return cur, nil
}

// Summaries mirrors Store.Summaries over committed records.
func (m *Memory) Summaries(_ context.Context, experiment string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byExp := make(map[string]*Summary)
	get := func(rec Record) *Summary {
		exp, _ := rec.Key["experiment"].(string)
		if experiment != "" && exp != experiment {
			return nil
		}
		if byExp[exp] == nil {
			byExp[exp] = &Summary{Experiment: exp}
		}
		return byExp[exp]
	}
	latencySum := make(map[string]float64)
	for _, rec := range m.tables[Results.Table] {
		if s := get(rec); s != nil {
			s.Results++
		}
	}
	for _, rec := range m.tables[Latencies.Table] {
		if s := get(rec); s != nil {
			s.Latencies++
			if ms, ok := rec.Values["latency_ms"].(float64); ok {
				latencySum[s.Experiment] += ms
			}
		}
	}
	for _, rec := range m.tables[ResourceLatencies.Table] {
		if s := get(rec); s != nil {
			s.Profiles++
		}
	}

	out := make([]Summary, 0, len(byExp))
	for exp, s := range byExp {
		if s.Latencies > 0 {
			s.AvgLatencyMs = latencySum[exp] / float64(s.Latencies)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Experiment < out[j].Experiment })
	return out, nil
}

// FrameRows mirrors Store.FrameRows over committed records.
func (m *Memory) FrameRows(_ context.Context, experiment string, index int64) ([]Record, error) {
	var out []Record
	for _, kind := range []Kind{Results, Latencies, ResourceLatencies} {
		for _, rec := range m.Records(kind) {
			if rec.Key["experiment"] == experiment && rec.Key["frame_index"] == index {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Reset discards every record.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string]map[string]Record)
	return nil
}

func (m *Memory) Close() {}
