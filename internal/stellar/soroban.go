package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// SorobanClient submits signed contract-call envelopes over Soroban JSON-RPC
// and polls until the transaction reaches a terminal status.
type SorobanClient struct {
	RPCURL string
	HTTP   *http.Client

	// PollInterval/MaxPolls bound the confirmation wait (~30s by default).
	PollInterval time.Duration
	MaxPolls     uint64
}

// NewSorobanClient creates a Soroban RPC client.
func NewSorobanClient(rpcURL string) *SorobanClient {
	return &SorobanClient{
		RPCURL:       strings.TrimRight(rpcURL, "/"),
		HTTP:         &http.Client{Timeout: 10 * time.Second},
		PollInterval: time.Second,
		MaxPolls:     30,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *SorobanClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("soroban rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("soroban rpc %s: http %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("soroban rpc %s decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("soroban rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("soroban rpc %s result decode: %w", method, err)
		}
	}
	return nil
}

type sendTxResult struct {
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

type getTxResult struct {
	Status string `json:"status"` // NOT_FOUND, SUCCESS, FAILED
	Ledger int64  `json:"ledger"`
}

// Submit sends a signed envelope and polls getTransaction until confirmed.
// A transaction still unconfirmed after the polling window is reported as
// PENDING, not an error; the caller records the attempt either way.
func (c *SorobanClient) Submit(ctx context.Context, signedXDR string) (*models.SubmitResult, error) {
	var sent sendTxResult
	err := c.call(ctx, "sendTransaction", map[string]string{"transaction": signedXDR}, &sent)
	if err != nil {
		return nil, err
	}
	if sent.Status == "ERROR" {
		return nil, fmt.Errorf("transaction send failed: %s", sent.Status)
	}

	var tx getTxResult
	poll := func() error {
		if err := c.call(ctx, "getTransaction", map[string]string{"hash": sent.Hash}, &tx); err != nil {
			return backoff.Permanent(err)
		}
		if tx.Status == "NOT_FOUND" {
			return fmt.Errorf("transaction %s not yet confirmed", sent.Hash)
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.PollInterval), c.MaxPolls), ctx)

	if err := backoff.Retry(poll, policy); err != nil {
		if permanent, ok := err.(*backoff.PermanentError); ok {
			return nil, permanent.Unwrap()
		}
		// Still NOT_FOUND after the polling window.
		return &models.SubmitResult{Hash: sent.Hash, Status: models.TxStatusPending}, nil
	}

	status := models.TxStatusFailed
	if tx.Status == "SUCCESS" {
		status = models.TxStatusSuccess
	}
	return &models.SubmitResult{Hash: sent.Hash, Ledger: tx.Ledger, Status: status}, nil
}
