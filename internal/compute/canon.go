// Package compute is the Computation Cache: stores past formula outputs
// keyed by (formula, contract, args, blockRange), and invalidates them
// against new events and transformations (spec §4.4).
package compute

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalizeArgs renders a formula's args map as key-sorted JSON, the
// identity input hashed into ArgsHash (spec §4.4).
func CanonicalizeArgs(args map[string]string) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb []byte
	sb = append(sb, '{')
	for i, k := range keys {
		if i > 0 {
			sb = append(sb, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(args[k])
		sb = append(sb, kb...)
		sb = append(sb, ':')
		sb = append(sb, vb...)
	}
	sb = append(sb, '}')
	return string(sb)
}

// ArgsHash returns the sha256 hex digest of CanonicalizeArgs(args) — the
// third component of a computation's identity (formula, targetContract,
// argsHash).
func ArgsHash(args map[string]string) string {
	sum := sha256.Sum256([]byte(CanonicalizeArgs(args)))
	return hex.EncodeToString(sum[:])
}
