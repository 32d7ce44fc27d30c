package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Fields{"experiment": "exp", "frame_index": 4}

	_, created, err := Upsert(ctx, m, Latencies, key, Fields{"latency_ms": 10.0, "value": "a"})
	require.NoError(t, err)
	assert.True(t, created)

	rec, created, err := Upsert(ctx, m, Latencies, key, Fields{"latency_ms": 20.0})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 20.0, rec.Values["latency_ms"])
	// Fields not named in the second call are left alone.
	assert.Equal(t, "a", rec.Values["value"])

	recs := m.Records(Latencies)
	require.Len(t, recs, 1)
	assert.Equal(t, 20.0, recs[0].Values["latency_ms"])
}

func TestMemoryFailedUnitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Fields{"experiment": "exp", "frame_index": 1}
	_, _, err := Upsert(ctx, m, Results, key, Fields{"value": "before"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Do(ctx, func(w Writer) error {
		if _, _, err := w.Upsert(ctx, Results, key, Fields{"value": "after"}); err != nil {
			return err
		}
		if _, _, err := w.Upsert(ctx, Latencies, key, Fields{"latency_ms": 1.0}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	recs := m.Records(Results)
	require.Len(t, recs, 1)
	assert.Equal(t, "before", recs[0].Values["value"])
	assert.Empty(t, m.Records(Latencies))
}

func TestMemoryConcurrentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Fields{"experiment": "race", "frame_index": 1}

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.Do(ctx, func(w Writer) error {
				rec, c, err := w.GetOrCreate(ctx, Latencies, key)
				if err != nil {
					return err
				}
				if c {
					mu.Lock()
					created++
					mu.Unlock()
				}
				_, err = w.Update(ctx, rec, Fields{"latency_ms": float64(i)})
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, m.Records(Latencies), 1)
}

func TestMemoryRejectsLongDataStat(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Fields{"app": "exp", "trace": "t", "name": "f1-phash"}

	_, _, err := Upsert(ctx, m, DataStats, key, Fields{"value": strings.Repeat("v", 8192)})
	require.NoError(t, err)

	_, _, err = Upsert(ctx, m, DataStats, key, Fields{"value": strings.Repeat("v", 8193)})
	assert.ErrorIs(t, err, ErrValueTooLong)

	recs := m.Records(DataStats)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Values["value"], 8192)
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Upsert(ctx, NewMemory(), Results, Fields{"experiment": "e", "frame_index": 1}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemorySummariesAndFrameRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := int64(1); i <= 2; i++ {
		_, _, err := Upsert(ctx, m, Latencies, Fields{"experiment": "a", "frame_index": i}, Fields{"latency_ms": float64(10 * i)})
		require.NoError(t, err)
	}
	_, _, err := Upsert(ctx, m, Results, Fields{"experiment": "a", "frame_index": 1}, Fields{"value": "{}"})
	require.NoError(t, err)
	_, _, err = Upsert(ctx, m, ResourceLatencies, Fields{"experiment": "b", "frame_index": 1, "cpu": "2"}, Fields{"latency_ms": 1.0})
	require.NoError(t, err)

	sums, err := m.Summaries(ctx, "")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, Summary{Experiment: "a", Results: 1, Latencies: 2, AvgLatencyMs: 15}, sums[0])
	assert.Equal(t, Summary{Experiment: "b", Profiles: 1}, sums[1])

	sums, err = m.Summaries(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, sums, 1)

	rows, err := m.FrameRows(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "result", rows[0].Kind)
	assert.Equal(t, "latency", rows[1].Kind)

	require.NoError(t, m.Reset(ctx))
	assert.Empty(t, m.Records(Latencies))
}

func TestMemoryKeepsDistinctKeysApart(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, created, err := Upsert(ctx, m, DataStats, Fields{"app": "a,b", "trace": "c", "name": "d"}, Fields{"value": "1"})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = Upsert(ctx, m, DataStats, Fields{"app": "a", "trace": "b,c", "name": "d"}, Fields{"value": "2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, m.Records(DataStats), 2)

	_, _, err = Upsert(ctx, m, DataStats, Fields{"app": "a\x00b", "trace": "c", "name": "d"}, Fields{"value": "3"})
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Len(t, m.Records(DataStats), 2)
}
