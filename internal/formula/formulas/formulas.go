// Package formulas ships the reference formula implementations wired into
// the default Registry (cmd/indexer) and used by the end-to-end scenarios
// in spec §8. They follow the generic CW20-style balance-map shape implied
// by spec §8 scenario 3's "balance:X" keys.
package formulas

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"wasmindexer/internal/formula"
	"wasmindexer/internal/keycodec"
)

const balanceKeyPrefix = "balance:"
const balanceV2KeyPrefix = "balance_v2:"
const contractInfoKey = "contract_info"

// canonKey encodes a literal ASCII key (or key prefix) into the
// comma-separated decimal-byte form keycodec stores every WasmEvent.Key as,
// so reads against literal key fragments still match ingested rows.
func canonKey(literal string) string {
	return keycodec.BytesToEventKey([]byte(literal))
}

// Balance reads a single address's token balance: get(contract,
// "balance:<address>"). Falls back from a v2 key to the legacy key, the
// "version polymorphism" pattern named in spec §9.
func Balance(ctx context.Context, env formula.Env, args map[string]string) (json.RawMessage, error) {
	addr, ok := args["address"]
	if !ok || addr == "" {
		return nil, fmt.Errorf("balance: missing required arg %q", "address")
	}
	v, err := env.Get(ctx, contractOrSelf(env, args), canonKey(balanceV2KeyPrefix+addr))
	if err != nil {
		return nil, err
	}
	if v == nil {
		v, err = env.Get(ctx, contractOrSelf(env, args), canonKey(balanceKeyPrefix+addr))
		if err != nil {
			return nil, err
		}
	}
	if v == nil {
		return json.Marshal("0")
	}
	return v, nil
}

// TotalSupply sums every entry under the balance: prefix, exercising
// GetMap's range-read dependency (spec §4.3).
func TotalSupply(ctx context.Context, env formula.Env, args map[string]string) (json.RawMessage, error) {
	contract := contractOrSelf(env, args)
	rows, err := env.GetMap(ctx, contract, canonKey(balanceKeyPrefix))
	if err != nil {
		return nil, err
	}
	total := int64(0)
	for _, raw := range rows {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return json.Marshal(strconv.FormatInt(total, 10))
}

func contractOrSelf(env formula.Env, args map[string]string) string {
	if c, ok := args["contract"]; ok && c != "" {
		return c
	}
	return env.TargetContract()
}

// VotingPowerDispatch is the polymorphic formula named in spec §9:
// voting_power dispatches on the contract's contract_info.contract field to
// a sub-formula implementation, looked up in a table keyed by canonical
// contract name.
type VotingPowerDispatch struct {
	// ByContractName maps a contract_info.contract value (e.g.
	// "crates.io:cw20-staked-balance-voting") to the formula that knows how
	// to compute voting power for that contract shape.
	ByContractName map[string]formula.Formula
}

// Dispatch resolves and runs the sub-formula for contract's declared
// contract-info name, read via env.Get(contract, "contract_info").
func (v VotingPowerDispatch) Dispatch(ctx context.Context, env formula.Env, args map[string]string) (json.RawMessage, error) {
	contract := contractOrSelf(env, args)
	raw, err := env.Get(ctx, contract, canonKey(contractInfoKey))
	if err != nil {
		return nil, err
	}
	var info struct {
		Contract string `json:"contract"`
	}
	if raw != nil {
		_ = json.Unmarshal(raw, &info)
	}
	name := strings.TrimSpace(info.Contract)
	f, ok := v.ByContractName[name]
	if !ok {
		return nil, fmt.Errorf("voting_power: no sub-formula registered for contract_info.contract %q", name)
	}
	return f(ctx, env, args)
}
