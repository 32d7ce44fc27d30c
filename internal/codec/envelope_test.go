package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{Data: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}, Timestamp: 1700000000.25, Index: 7}
	raw, err := EncodeEnvelope(in)
	require.NoError(t, err)

	out, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"garbage", []byte("not cbor at all")},
		{"truncated", []byte{0xA3, 0x01}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.raw)
			assert.ErrorIs(t, err, ErrEnvelope)
		})
	}

	noData, err := EncodeEnvelope(Envelope{Timestamp: 1, Index: 1})
	require.NoError(t, err)
	_, err = DecodeEnvelope(noData)
	assert.ErrorIs(t, err, ErrEnvelope)
}

func TestSecondsConversion(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.UTC)
	got := FromSeconds(Seconds(now))
	assert.WithinDuration(t, now, got, time.Microsecond)
}

func TestResultRoundTrip(t *testing.T) {
	type state struct {
		BallX int  `json:"ball_x"`
		Found bool `json:"found"`
	}
	s, err := EncodeResult(state{BallX: 12, Found: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ball_x":12,"found":true}`, s)

	var back state
	require.NoError(t, DecodeResult(s, &back))
	assert.Equal(t, state{BallX: 12, Found: true}, back)

	_, err = EncodeResult(make(chan int))
	assert.Error(t, err)
}
