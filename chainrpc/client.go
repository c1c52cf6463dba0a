package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client provides a thin JSON-RPC wrapper over the chain node used to look
// up transaction outcomes for reconciliation.
type Client struct {
	url        string
	chainID    string
	contract   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Config represents the client configuration.
type Config struct {
	URL      string
	ChainID  string
	Contract string
	Timeout  time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:      strings.TrimSpace(cfg.URL),
		chainID:  strings.TrimSpace(cfg.ChainID),
		contract: strings.TrimSpace(cfg.Contract),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TxOutcome reflects the terminal state of a submitted transaction.
type TxOutcome struct {
	TxHash    string
	Confirmed bool
	Failed    bool
	TokenID   string
	Sender    string
	Error     string
	Timestamp time.Time
}

// Pending reports whether the chain has not yet settled the transaction.
func (o *TxOutcome) Pending() bool {
	return o != nil && !o.Confirmed && !o.Failed
}

// GetTxOutcome looks up the transaction by hash. A not-yet-indexed hash comes
// back as a pending outcome rather than an error.
func (c *Client) GetTxOutcome(ctx context.Context, txHash string) (*TxOutcome, error) {
	var result struct {
		TxHash    string `json:"txHash"`
		Status    string `json:"status"`
		TokenID   string `json:"tokenId"`
		Sender    string `json:"sender"`
		RawLog    string `json:"rawLog"`
		Timestamp int64  `json:"timestamp"`
	}
	err := c.call(ctx, "tx_getReceipt", []interface{}{txHash, c.contract}, &result)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.Code == codeTxNotFound {
			return &TxOutcome{TxHash: txHash}, nil
		}
		return nil, err
	}
	outcome := &TxOutcome{
		TxHash:  strings.TrimSpace(result.TxHash),
		TokenID: strings.TrimSpace(result.TokenID),
		Sender:  strings.TrimSpace(result.Sender),
	}
	if result.Timestamp > 0 {
		outcome.Timestamp = time.Unix(result.Timestamp, 0).UTC()
	}
	switch strings.ToLower(strings.TrimSpace(result.Status)) {
	case "confirmed", "success":
		outcome.Confirmed = true
	case "failed", "error":
		outcome.Failed = true
		outcome.Error = strings.TrimSpace(result.RawLog)
	}
	return outcome, nil
}

// TokenOwner resolves the current owner of a minted token on the configured
// contract.
func (c *Client) TokenOwner(ctx context.Context, tokenID string) (string, error) {
	var result struct {
		Owner string `json:"owner"`
	}
	if err := c.call(ctx, "nft_ownerOf", []interface{}{c.contract, tokenID}, &result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Owner), nil
}

const codeTxNotFound = -32000

// Error is a JSON-RPC level failure returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("chainrpc: error %d %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("chainrpc: client not configured")
	}
	id := c.nextID.Add(1)
	reqBody := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("chainrpc: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chainrpc: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("chainrpc: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
