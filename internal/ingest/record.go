package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
)

// rawRecord is the wire schema for one input line (spec §6):
// {blockHeight, blockTimeUnixMs, contractAddress, codeId, key, value, delete}
// with key and value base64-encoded.
type rawRecord struct {
	BlockHeight     uint64  `json:"blockHeight"`
	BlockTimeUnixMs uint64  `json:"blockTimeUnixMs"`
	ContractAddress string  `json:"contractAddress"`
	CodeID          uint64  `json:"codeId"`
	Key             string  `json:"key"`
	Value           *string `json:"value"`
	Delete          bool    `json:"delete"`
}

// parseLine validates structural shape and decodes a raw input line into a
// model.WasmEvent in normalized form (spec §4.5 step 2): key canonicalized
// to comma-separated decimal bytes, value base64-decoded to a UTF-8 string,
// valueJson attempted (silently dropped on failure).
func parseLine(line []byte) (model.WasmEvent, error) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return model.WasmEvent{}, fmt.Errorf("malformed record: %w", err)
	}
	if raw.ContractAddress == "" {
		return model.WasmEvent{}, fmt.Errorf("missing contractAddress")
	}
	if raw.Key == "" {
		return model.WasmEvent{}, fmt.Errorf("missing key")
	}
	if !raw.Delete && raw.Value == nil {
		return model.WasmEvent{}, fmt.Errorf("missing value for non-delete record")
	}

	canonKey, err := keycodec.Base64ToEventKey(raw.Key)
	if err != nil {
		return model.WasmEvent{}, fmt.Errorf("decode key: %w", err)
	}

	e := model.WasmEvent{
		BlockHeight:     raw.BlockHeight,
		ContractAddress: raw.ContractAddress,
		CodeID:          raw.CodeID,
		Key:             canonKey,
		Delete:          raw.Delete,
		BlockTimeUnixMs: raw.BlockTimeUnixMs,
	}
	if !raw.Delete {
		decoded, err := base64.StdEncoding.DecodeString(*raw.Value)
		if err != nil {
			return model.WasmEvent{}, fmt.Errorf("decode value: %w", err)
		}
		s := string(decoded)
		e.Value = &s
		var js json.RawMessage
		if json.Unmarshal(decoded, &js) == nil {
			e.ValueJSON = js
		}
	}
	return e, nil
}
