// Package search is the opaque search-index sink named in spec §1/§4.5: the
// indexer treats it purely as reindex(contracts) and does not specify its
// internals.
package search

import (
	"context"

	"go.uber.org/zap"
)

// Indexer is the sink interface the ingestion driver calls at the end of
// every flush (spec §4.5 step 8).
type Indexer interface {
	Reindex(ctx context.Context, contracts []string) error
}

// Noop is the default Indexer: logs the contracts that would be reindexed
// and returns nil. Swap in a real backend by implementing Indexer.
type Noop struct {
	log *zap.SugaredLogger
}

// NewNoop builds a logging no-op Indexer.
func NewNoop(log *zap.SugaredLogger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Reindex(ctx context.Context, contracts []string) error {
	if len(contracts) == 0 {
		return nil
	}
	n.log.Debugw("reindex", "contracts", contracts)
	return nil
}
