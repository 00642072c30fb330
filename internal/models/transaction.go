package models

// TransactionRecord is one finalized unit of execution delivered by the
// transaction feed. It is the only evidence the reconciler gets: free-text
// program logs, the addresses the transaction referenced, and best-effort
// token balance snapshots taken before and after execution.
type TransactionRecord struct {
	Txid              string         `json:"txid"`
	LogMessages       []string       `json:"log_messages"`
	AccountKeys       []string       `json:"account_keys"`
	PreTokenBalances  []TokenBalance `json:"pre_token_balances,omitempty"`
	PostTokenBalances []TokenBalance `json:"post_token_balances,omitempty"`
}

// Actor returns the transaction fee payer, by ledger convention the first
// referenced address. Empty when the record carries no keys.
func (r *TransactionRecord) Actor() string {
	if len(r.AccountKeys) == 0 {
		return ""
	}
	return r.AccountKeys[0]
}

// TokenBalance is one entry of a pre- or post-transaction balance snapshot.
// Amount is the raw integer amount as decimal text.
type TokenBalance struct {
	AccountIndex int    `json:"account_index"`
	Owner        string `json:"owner"`
	Amount       string `json:"amount"`
}

// OperatorSlot is one delegated-signer slot as the program stores it
// on-chain. Slots are append-ordered.
type OperatorSlot struct {
	Address    string `json:"address"`
	PerTxLimit string `json:"per_tx_limit"`
}

// AccountSnapshot is the decoded on-chain state of a managed account,
// fetched after the transaction finalized.
type AccountSnapshot struct {
	Owner     string         `json:"owner"`
	Mint      string         `json:"mint"`
	Paused    bool           `json:"paused"`
	Operators []OperatorSlot `json:"operators"`
}
