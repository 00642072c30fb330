// File: internal/indexer/balances_test.go
package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/silk-labs/silk-indexer/internal/models"
)

func TestExtractBalanceDeltaDecrease(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 2, Owner: "ownerX", Amount: "1000"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 2, Owner: "ownerX", Amount: "600"},
		},
	}

	amount, counterparty, ok := ExtractBalanceDelta(record)
	assert.True(t, ok)
	assert.Equal(t, "400", amount)
	assert.Equal(t, "ownerX", counterparty)
}

func TestExtractBalanceDeltaIncrease(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "ownerY", Amount: "0"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "ownerY", Amount: "250"},
		},
	}

	amount, counterparty, ok := ExtractBalanceDelta(record)
	assert.True(t, ok)
	assert.Equal(t, "250", amount)
	assert.Equal(t, "ownerY", counterparty)
}

func TestExtractBalanceDeltaFirstDiffWins(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "first", Amount: "100"},
			{AccountIndex: 3, Owner: "second", Amount: "500"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "first", Amount: "90"},
			{AccountIndex: 3, Owner: "second", Amount: "510"},
		},
	}

	amount, counterparty, ok := ExtractBalanceDelta(record)
	assert.True(t, ok)
	assert.Equal(t, "10", amount)
	assert.Equal(t, "first", counterparty)
}

func TestExtractBalanceDeltaMissingPreEntry(t *testing.T) {
	// A token account created by the transaction has no pre entry.
	record := &models.TransactionRecord{
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 4, Owner: "fresh", Amount: "75"},
		},
	}

	amount, counterparty, ok := ExtractBalanceDelta(record)
	assert.True(t, ok)
	assert.Equal(t, "75", amount)
	assert.Equal(t, "fresh", counterparty)
}

func TestExtractBalanceDeltaNoChange(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "ownerX", Amount: "1000"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Owner: "ownerX", Amount: "1000"},
		},
	}

	_, _, ok := ExtractBalanceDelta(record)
	assert.False(t, ok)
}

func TestExtractBalanceDeltaEmpty(t *testing.T) {
	_, _, ok := ExtractBalanceDelta(&models.TransactionRecord{})
	assert.False(t, ok)
}

func TestExtractBalanceDeltaLargeAmounts(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 0, Owner: "whale", Amount: "18446744073709551615"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 0, Owner: "whale", Amount: "18446744073709551617"},
		},
	}

	amount, _, ok := ExtractBalanceDelta(record)
	assert.True(t, ok)
	assert.Equal(t, "2", amount)
}

func TestExtractBalanceDeltaInvalidAmount(t *testing.T) {
	record := &models.TransactionRecord{
		PreTokenBalances: []models.TokenBalance{
			{AccountIndex: 0, Owner: "x", Amount: "not-a-number"},
		},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 0, Owner: "x", Amount: "5"},
		},
	}

	_, _, ok := ExtractBalanceDelta(record)
	assert.False(t, ok)
}
