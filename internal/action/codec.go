package action

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Persisted records are CBOR with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Identical actions always encode to
// identical bytes. The CBOR payload is wrapped in a zstd frame behind
// a 4-byte magic so the on-disk format can evolve.

// recordMagic prefixes every serialized action record.
var recordMagic = []byte("WDN1")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	// Timestamps carry nanosecond precision; the default unix-seconds
	// time encoding would truncate them and break round-trips.
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("action: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("action: CBOR decoder initialization failed: " + err.Error())
	}

	// Single-threaded coders keep the compressed output deterministic
	// and avoid per-call goroutine churn on small records.
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("action: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("action: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes an action into its persisted record form.
func Encode(a *Action) ([]byte, error) {
	payload, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action record: %w", err)
	}

	out := make([]byte, len(recordMagic), len(recordMagic)+len(payload))
	copy(out, recordMagic)
	return zstdEncoder.EncodeAll(payload, out), nil
}

// Decode deserializes a persisted record produced by Encode.
func Decode(data []byte) (*Action, error) {
	if !bytes.HasPrefix(data, recordMagic) {
		return nil, fmt.Errorf("not an action record: bad magic")
	}

	payload, err := zstdDecoder.DecodeAll(data[len(recordMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress action record: %w", err)
	}

	a := &Action{}
	if err := decMode.Unmarshal(payload, a); err != nil {
		return nil, fmt.Errorf("failed to decode action record: %w", err)
	}
	return a, nil
}
