// Package errs collects the sentinel error kinds surfaced by the compute
// query API (spec §6); callers wrap them with fmt.Errorf("%w", ...) and
// switch on them with errors.Is/Is.
package errs

import "errors"

// Sentinel kinds of the compute query API. compute.Cache.Query returns
// ErrNotYetIndexed and ErrFormulaEval; no code path in this module returns
// ErrContractNotFound or ErrNoEvents.
var (
	ErrUnknownFormula   = errors.New("unknown formula")
	ErrContractNotFound = errors.New("contract not found")
	ErrNoEvents         = errors.New("no events for contract")
	ErrNotYetIndexed    = errors.New("block not yet indexed")
	ErrFormulaEval      = errors.New("formula evaluation failed")
)

// Is re-exports errors.Is for call sites that only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }
