// Package codec encodes documents for stores that keep opaque blobs (Redis, DynamoDB).
// Documents are msgpack-encoded, which keeps time.Time values intact across a round trip,
// then zstd-compressed.
package codec

import (
	"bytes"
	"fmt"

	"firestorm/internal/types"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
var dec, _ = zstd.NewReader(nil)

// Encode serializes and compresses a document.
func Encode(doc types.Document) ([]byte, error) {
	var buf bytes.Buffer
	e := msgpack.NewEncoder(&buf)
	e.SetSortMapKeys(true)
	if err := e.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	raw := buf.Bytes()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// Decode reverses Encode. Integers come back as int64 or uint64 and floats as float64,
// whatever width they were encoded with.
func Decode(b []byte) (types.Document, error) {
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	d := msgpack.NewDecoder(bytes.NewReader(raw))
	d.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := d.Decode(&m); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return types.Document(m), nil
}
