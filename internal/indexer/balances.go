// File: internal/indexer/balances.go
package indexer

import (
	"errors"
	"math/big"
	"sort"

	"github.com/silk-labs/silk-indexer/internal/models"
)

var errInvalidAmount = errors.New("indexer: invalid token amount")

// ExtractBalanceDelta derives the moved amount and the counterparty owner
// from a transaction's token balance snapshots. Balance entries are matched
// by account index; the first index, in ascending order, whose pre and post
// amounts differ wins. The returned amount is the absolute difference as
// decimal text. A balance missing from one side counts as zero. Returns
// ok=false when no entry changed or an amount failed to parse.
func ExtractBalanceDelta(record *models.TransactionRecord) (amount, counterparty string, ok bool) {
	pre := make(map[int]models.TokenBalance, len(record.PreTokenBalances))
	for _, b := range record.PreTokenBalances {
		pre[b.AccountIndex] = b
	}
	post := make(map[int]models.TokenBalance, len(record.PostTokenBalances))
	for _, b := range record.PostTokenBalances {
		post[b.AccountIndex] = b
	}

	indexes := make([]int, 0, len(pre)+len(post))
	seen := make(map[int]struct{}, len(pre)+len(post))
	for idx := range pre {
		indexes = append(indexes, idx)
		seen[idx] = struct{}{}
	}
	for idx := range post {
		if _, dup := seen[idx]; !dup {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		preAmount, err := parseAmount(pre, idx)
		if err != nil {
			return "", "", false
		}
		postAmount, err := parseAmount(post, idx)
		if err != nil {
			return "", "", false
		}
		if preAmount.Cmp(postAmount) == 0 {
			continue
		}

		delta := new(big.Int).Sub(postAmount, preAmount)
		delta.Abs(delta)

		owner := ""
		if b, found := post[idx]; found {
			owner = b.Owner
		} else if b, found := pre[idx]; found {
			owner = b.Owner
		}
		return delta.String(), owner, true
	}
	return "", "", false
}

func parseAmount(balances map[int]models.TokenBalance, idx int) (*big.Int, error) {
	b, found := balances[idx]
	if !found || b.Amount == "" {
		return big.NewInt(0), nil
	}
	value, valid := new(big.Int).SetString(b.Amount, 10)
	if !valid {
		return nil, errInvalidAmount
	}
	return value, nil
}
