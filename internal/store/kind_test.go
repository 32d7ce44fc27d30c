package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		key     Fields
		want    Fields
		wantErr error
	}{
		{
			name: "optional trace defaults to empty",
			kind: Results,
			key:  Fields{"experiment": "e1", "frame_index": 3},
			want: Fields{"experiment": "e1", "frame_index": int64(3), "trace": ""},
		},
		{
			name:    "missing required column",
			kind:    Latencies,
			key:     Fields{"experiment": "e1"},
			wantErr: ErrInvalidKey,
		},
		{
			name:    "unknown column",
			kind:    Latencies,
			key:     Fields{"experiment": "e1", "frame_index": 1, "bogus": 1},
			wantErr: ErrInvalidKey,
		},
		{
			name:    "NUL byte in a string part",
			kind:    DataStats,
			key:     Fields{"app": "a\x00b", "trace": "c", "name": "d"},
			wantErr: ErrInvalidKey,
		},
		{
			name: "resource tags default",
			kind: ResourceLatencies,
			key:  Fields{"experiment": "e1", "frame_index": 1},
			want: Fields{"experiment": "e1", "frame_index": int64(1), "trace": "", "cpu": "", "memory": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.kind.normalizeKey(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyStringDistinguishesKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b Fields
	}{
		{
			name: "separator inside a part",
			a:    Fields{"app": "a,b", "trace": "c", "name": "d"},
			b:    Fields{"app": "a", "trace": "b,c", "name": "d"},
		},
		{
			name: "quote inside a part",
			a:    Fields{"app": `a","b`, "trace": "", "name": "d"},
			b:    Fields{"app": "a", "trace": "b", "name": "d"},
		},
		{
			name: "empty optional part",
			a:    Fields{"app": "a", "trace": "", "name": "bd"},
			b:    Fields{"app": "a", "trace": "b", "name": "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := DataStats.normalizeKey(tt.a)
			require.NoError(t, err)
			b, err := DataStats.normalizeKey(tt.b)
			require.NoError(t, err)
			assert.NotEqual(t, DataStats.keyString(a), DataStats.keyString(b))
		})
	}
}

func TestCheckFieldsRejectsKeyColumns(t *testing.T) {
	err := Latencies.checkFields(Fields{"frame_index": 2})
	assert.ErrorIs(t, err, ErrInvalidKey)

	assert.NoError(t, Latencies.checkFields(Fields{"latency_ms": 1.5, "value": "{}"}))
}

func TestDataStatValueLimit(t *testing.T) {
	exact := strings.Repeat("a", 8192)
	assert.NoError(t, DataStats.checkFields(Fields{"value": exact}))

	over := exact + "a"
	assert.ErrorIs(t, DataStats.checkFields(Fields{"value": over}), ErrValueTooLong)

	// Limits count characters, not bytes.
	multibyte := strings.Repeat("é", 8192)
	assert.NoError(t, DataStats.checkFields(Fields{"value": multibyte}))
}

func TestDataStatKeyLimit(t *testing.T) {
	_, err := DataStats.normalizeKey(Fields{"app": strings.Repeat("x", 513), "name": "n"})
	assert.ErrorIs(t, err, ErrValueTooLong)

	_, err = DataStats.normalizeKey(Fields{"app": strings.Repeat("x", 512), "name": "n"})
	assert.NoError(t, err)
}

func TestFieldOrderFollowsKind(t *testing.T) {
	got := Latencies.fieldOrder(Fields{"finished_at": 1, "value": "v", "latency_ms": 2})
	assert.Equal(t, []string{"value", "latency_ms", "finished_at"}, got)
}

func TestKindByName(t *testing.T) {
	for _, k := range Kinds {
		got, ok := KindByName(k.Name)
		require.True(t, ok, k.Name)
		assert.Equal(t, k.Table, got.Table)
	}
	_, ok := KindByName("nope")
	assert.False(t, ok)
}
