package relaycache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/xxh3"
)

// Fingerprint is the hex xxh3-128 of the canonical JSON of a relay list
// payload. Payloads differing only in key order or whitespace share a
// fingerprint. Unparseable payloads are hashed as-is.
func Fingerprint(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashHex(raw)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return hashHex(raw)
	}
	return hashHex(canonical)
}

func hashHex(data []byte) string {
	h128 := xxh3.Hash128(data)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], h128.Lo)
	binary.LittleEndian.PutUint64(b[8:], h128.Hi)
	return hex.EncodeToString(b[:])
}
