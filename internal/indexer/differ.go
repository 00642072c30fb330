// File: internal/indexer/differ.go
package indexer

import (
	"github.com/silk-labs/silk-indexer/internal/models"
)

// FindAddedOperator returns the operator slot an AddOperator instruction
// appended. The program appends new slots, so the last slot of the
// post-transaction snapshot is the one just added. Returns nil when the
// snapshot has no slots.
func FindAddedOperator(snapshot *models.AccountSnapshot) *models.OperatorSlot {
	if snapshot == nil || len(snapshot.Operators) == 0 {
		return nil
	}
	slot := snapshot.Operators[len(snapshot.Operators)-1]
	return &slot
}

// FindRemovedOperator compares the mirrored operator set against the
// post-transaction snapshot and returns the single operator present locally
// but absent on chain. Returns empty when zero or more than one operator is
// missing; a multi-way divergence means the mirror drifted and guessing would
// make it worse.
func FindRemovedOperator(mirrored []*models.Operator, snapshot *models.AccountSnapshot) string {
	if snapshot == nil {
		return ""
	}
	onChain := make(map[string]struct{}, len(snapshot.Operators))
	for _, slot := range snapshot.Operators {
		onChain[slot.Address] = struct{}{}
	}

	removed := ""
	for _, op := range mirrored {
		if _, ok := onChain[op.Operator]; ok {
			continue
		}
		if removed != "" {
			return ""
		}
		removed = op.Operator
	}
	return removed
}
