// File: internal/indexer/differ_test.go
package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silk-labs/silk-indexer/internal/models"
)

func TestFindAddedOperator(t *testing.T) {
	snapshot := &models.AccountSnapshot{
		Operators: []models.OperatorSlot{
			{Address: "op1", PerTxLimit: "100"},
			{Address: "op2", PerTxLimit: "50"},
		},
	}

	slot := FindAddedOperator(snapshot)
	require.NotNil(t, slot)
	assert.Equal(t, "op2", slot.Address)
	assert.Equal(t, "50", slot.PerTxLimit)
}

func TestFindAddedOperatorEmpty(t *testing.T) {
	assert.Nil(t, FindAddedOperator(nil))
	assert.Nil(t, FindAddedOperator(&models.AccountSnapshot{}))
}

func TestFindRemovedOperator(t *testing.T) {
	mirrored := []*models.Operator{
		{Operator: "op1"},
		{Operator: "op2"},
		{Operator: "op3"},
	}
	snapshot := &models.AccountSnapshot{
		Operators: []models.OperatorSlot{
			{Address: "op1"},
			{Address: "op3"},
		},
	}

	assert.Equal(t, "op2", FindRemovedOperator(mirrored, snapshot))
}

func TestFindRemovedOperatorNoneMissing(t *testing.T) {
	mirrored := []*models.Operator{{Operator: "op1"}}
	snapshot := &models.AccountSnapshot{
		Operators: []models.OperatorSlot{{Address: "op1"}},
	}

	assert.Equal(t, "", FindRemovedOperator(mirrored, snapshot))
}

func TestFindRemovedOperatorAmbiguous(t *testing.T) {
	// Two missing operators means the mirror drifted; refuse to guess.
	mirrored := []*models.Operator{
		{Operator: "op1"},
		{Operator: "op2"},
	}
	snapshot := &models.AccountSnapshot{}

	assert.Equal(t, "", FindRemovedOperator(mirrored, snapshot))
}

func TestFindRemovedOperatorNilSnapshot(t *testing.T) {
	mirrored := []*models.Operator{{Operator: "op1"}}
	assert.Equal(t, "", FindRemovedOperator(mirrored, nil))
}
