// File: internal/chain/client.go
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/silk-labs/silk-indexer/internal/models"
	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// ErrNotManagedAccount reports that an address exists but does not decode as
// a managed account (or does not exist at all). It is a definitive answer,
// not a transient failure: the locator keeps scanning on it and aborts on
// anything else.
var ErrNotManagedAccount = errors.New("chain: not a managed account")

// managedAccountDiscriminator is the 8-byte tag the program writes at the
// start of every managed-account record.
var managedAccountDiscriminator = []byte{0x9b, 0x5f, 0x21, 0xd3, 0x6e, 0x04, 0xa7, 0x58}

// Account data layout, after the discriminator: owner (32), mint (32),
// paused (1), operator count (1), then operatorCount slots of
// pubkey (32) + per-tx limit (u64 little endian).
const (
	discriminatorLen = 8
	pubkeyLen        = 32
	fixedHeaderLen   = discriminatorLen + pubkeyLen + pubkeyLen + 1 + 1
	operatorSlotLen  = pubkeyLen + 8
)

// Client is the read-only ledger access the engine needs: decoded account
// snapshots and finalized transaction records.
type Client interface {
	FetchAccount(ctx context.Context, address string) (*models.AccountSnapshot, error)
	RecentSignatures(ctx context.Context, programID string, limit int, until string) ([]string, error)
	GetTransaction(ctx context.Context, signature string) (*models.TransactionRecord, error)
	HealthCheck(ctx context.Context) error
}

// RPCClient talks JSON-RPC to one ledger node.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewRPCClient creates a client for a single RPC endpoint.
func NewRPCClient(endpoint string, requestTimeout time.Duration) *RPCClient {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     utils.GetLogger(),
	}
}

// Endpoint returns the node URL this client targets.
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcErrInvalidParams is the JSON-RPC code nodes answer with when a request
// parameter itself is malformed (for example an address that is not a valid
// public key). Such answers are verdicts, not outages.
const rpcErrInvalidParams = -32602

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

// call performs one JSON-RPC request and unmarshals the result into out.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode RPC request", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to build RPC request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "RPC request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError(utils.ErrCodeConnection,
			fmt.Sprintf("RPC endpoint returned HTTP %d", resp.StatusCode), method)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return utils.NewAppError(utils.ErrCodeBlockchain, "Failed to decode RPC response", err.Error())
	}
	if rpcResp.Error != nil {
		return utils.WrapError(utils.ErrCodeBlockchain, "RPC node returned error", rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return utils.NewAppError(utils.ErrCodeBlockchain, "Failed to decode RPC result", err.Error())
		}
	}
	return nil
}

// FetchAccount fetches and decodes one managed account. Returns
// ErrNotManagedAccount when the address holds no account or an account of a
// different type.
func (c *RPCClient) FetchAccount(ctx context.Context, address string) (*models.AccountSnapshot, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"` // [payload, encoding]
		} `json:"value"`
	}

	params := []interface{}{address, map[string]interface{}{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		var nodeErr *rpcError
		if errors.As(err, &nodeErr) && nodeErr.Code == rpcErrInvalidParams {
			// The node rejected the address itself. That is permanent:
			// retrying the transaction would reject it again forever.
			return nil, ErrNotManagedAccount
		}
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, ErrNotManagedAccount
	}

	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, ErrNotManagedAccount
	}
	return decodeManagedAccount(raw)
}

// decodeManagedAccount parses the on-chain byte layout into a snapshot.
func decodeManagedAccount(raw []byte) (*models.AccountSnapshot, error) {
	if len(raw) < fixedHeaderLen || !bytes.Equal(raw[:discriminatorLen], managedAccountDiscriminator) {
		return nil, ErrNotManagedAccount
	}

	off := discriminatorLen
	owner := utils.Base58Encode(raw[off : off+pubkeyLen])
	off += pubkeyLen
	mint := utils.Base58Encode(raw[off : off+pubkeyLen])
	off += pubkeyLen
	paused := raw[off] != 0
	off++
	operatorCount := int(raw[off])
	off++

	if len(raw) < off+operatorCount*operatorSlotLen {
		return nil, ErrNotManagedAccount
	}

	operators := make([]models.OperatorSlot, 0, operatorCount)
	for i := 0; i < operatorCount; i++ {
		slot := raw[off+i*operatorSlotLen : off+(i+1)*operatorSlotLen]
		operators = append(operators, models.OperatorSlot{
			Address:    utils.Base58Encode(slot[:pubkeyLen]),
			PerTxLimit: strconv.FormatUint(binary.LittleEndian.Uint64(slot[pubkeyLen:]), 10),
		})
	}

	return &models.AccountSnapshot{
		Owner:     owner,
		Mint:      mint,
		Paused:    paused,
		Operators: operators,
	}, nil
}

// RecentSignatures returns transaction signatures touching the program,
// newest first. An empty until fetches the most recent page.
func (c *RPCClient) RecentSignatures(ctx context.Context, programID string, limit int, until string) ([]string, error) {
	opts := map[string]interface{}{"limit": limit}
	if until != "" {
		opts["until"] = until
	}

	var result []struct {
		Signature string  `json:"signature"`
		Err       *string `json:"err,omitempty"`
	}
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{programID, opts}, &result); err != nil {
		return nil, err
	}

	signatures := make([]string, 0, len(result))
	for _, entry := range result {
		signatures = append(signatures, entry.Signature)
	}
	return signatures, nil
}

// GetTransaction fetches one finalized transaction as the record shape the
// reconciler consumes.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*models.TransactionRecord, error) {
	var result struct {
		Meta *struct {
			LogMessages       []string          `json:"logMessages"`
			PreTokenBalances  []rpcTokenBalance `json:"preTokenBalances"`
			PostTokenBalances []rpcTokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}

	params := []interface{}{signature, map[string]interface{}{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}

	record := &models.TransactionRecord{
		Txid:        signature,
		AccountKeys: result.Transaction.Message.AccountKeys,
	}
	if result.Meta != nil {
		record.LogMessages = result.Meta.LogMessages
		record.PreTokenBalances = convertTokenBalances(result.Meta.PreTokenBalances)
		record.PostTokenBalances = convertTokenBalances(result.Meta.PostTokenBalances)
	}
	return record, nil
}

type rpcTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

func convertTokenBalances(in []rpcTokenBalance) []models.TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.TokenBalance, 0, len(in))
	for _, b := range in {
		out = append(out, models.TokenBalance{
			AccountIndex: b.AccountIndex,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
		})
	}
	return out
}

// HealthCheck verifies the node answers at all.
func (c *RPCClient) HealthCheck(ctx context.Context) error {
	var status string
	return c.call(ctx, "getHealth", nil, &status)
}
