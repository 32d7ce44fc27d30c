// Package codec holds the two serialization boundaries of the pipelines:
// the binary frame envelope delivered over the job queue and the text form
// of handler results stored in the metric tables.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrEnvelope is returned for any envelope that cannot be decoded.
var ErrEnvelope = errors.New("malformed frame envelope")

// Envelope is one streamed frame as sent by a producer.
type Envelope struct {
	// Data is the encoded image (JPEG or PNG).
	Data []byte `cbor:"1,keyasint"`
	// Timestamp is the send time in seconds since the epoch.
	Timestamp float64 `cbor:"2,keyasint"`
	// Index is the producer's frame sequence number.
	Index int64 `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// SentAt converts the envelope timestamp to a time.Time.
func (e Envelope) SentAt() time.Time {
	return FromSeconds(e.Timestamp)
}

// EncodeEnvelope serializes an envelope.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return encMode.Marshal(e)
}

// DecodeEnvelope parses an envelope and rejects ones without image data.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrEnvelope, err)
	}
	if len(e.Data) == 0 {
		return Envelope{}, fmt.Errorf("%w: frame %d has no image data", ErrEnvelope, e.Index)
	}
	return e, nil
}

// Seconds converts t to fractional seconds since the epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds is the inverse of Seconds.
func FromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}

// EncodeResult renders a handler result as JSON for storage.
func EncodeResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}

// DecodeResult parses a stored result into v.
func DecodeResult(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
