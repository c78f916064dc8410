// Package keycodec converts between the chain's wire key encoding and the
// canonical form stored alongside every WasmEvent.
//
// The chain emits composite storage keys as base64 of concatenated
// length-prefixed byte segments (a 2-byte big-endian length, then the
// segment bytes, repeated; the final segment has no length prefix — it runs
// to the end of the buffer, matching cosmwasm-std's Map key encoding). The
// stored canonical form is a comma-separated decimal byte list, chosen so
// that prefix matching for formula dependency intersection (model.Dependency)
// is a plain string/byte-slice prefix comparison rather than a structural
// decode on every lookup.
package keycodec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Base64ToEventKey decodes a base64 wire key into its canonical
// comma-separated decimal byte form.
func Base64ToEventKey(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64 key: %w", err)
	}
	return BytesToEventKey(raw), nil
}

// BytesToEventKey renders raw key bytes as a comma-separated decimal byte
// list, e.g. []byte{0, 255} -> "0,255".
func BytesToEventKey(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range raw {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	return sb.String()
}

// EventKeyToBytes parses the canonical decimal byte list back into raw
// bytes. It is the left inverse of BytesToEventKey.
func EventKeyToBytes(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	parts := strings.Split(key, ",")
	out := make([]byte, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("invalid byte %q in event key", p)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// EventKeyToBase64 re-encodes a canonical event key back to the chain's
// base64 wire form. Composed with Base64ToEventKey it round-trips on any
// byte string: Base64ToEventKey(EventKeyToBase64(k)) == k.
func EventKeyToBase64(key string) (string, error) {
	raw, err := EventKeyToBytes(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSegments splits a raw composite key into its length-prefixed
// segments, used by transformation rules that match or extract individual
// segments (e.g. a "balance" map's key = [map-namespace-len-prefixed
// namespace][address]). The final segment is not length-prefixed and
// consumes the remainder of raw.
func DecodeSegments(raw []byte) ([][]byte, error) {
	var segs [][]byte
	rest := raw
	for len(rest) > 0 {
		if len(rest) < 2 {
			segs = append(segs, rest)
			break
		}
		l := binary.BigEndian.Uint16(rest[:2])
		if 2+int(l) > len(rest) {
			// Final segment: no more length-prefixed segments follow.
			segs = append(segs, rest)
			break
		}
		segs = append(segs, rest[2:2+int(l)])
		rest = rest[2+int(l):]
	}
	return segs, nil
}
