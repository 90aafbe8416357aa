package stellar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HorizonClient talks to a Horizon server for account reads and classic
// transaction submission.
type HorizonClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHorizonClient creates a Horizon client with an 10s default timeout.
func NewHorizonClient(baseURL string) *HorizonClient {
	return &HorizonClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type horizonAccount struct {
	Balances []struct {
		Balance   string `json:"balance"`
		AssetType string `json:"asset_type"`
	} `json:"balances"`
}

// FetchBalance returns the native XLM balance for an account as the decimal
// string Horizon reports. Accounts with no native balance line report "0".
func (c *HorizonClient) FetchBalance(ctx context.Context, account string) (string, error) {
	u := c.BaseURL + "/accounts/" + url.PathEscape(account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("horizon account request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("horizon account %s not found", account)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("horizon account request: http %d", resp.StatusCode)
	}

	var acct horizonAccount
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&acct); err != nil {
		return "", fmt.Errorf("horizon account decode: %w", err)
	}
	for _, b := range acct.Balances {
		if b.AssetType == "native" {
			return b.Balance, nil
		}
	}
	return "0", nil
}

type horizonTxResponse struct {
	Hash   string `json:"hash"`
	Ledger int64  `json:"ledger"`
	Detail string `json:"detail"`
}

// SubmitTransaction posts a signed classic transaction envelope to Horizon
// and returns its hash and ledger.
func (c *HorizonClient) SubmitTransaction(ctx context.Context, signedXDR string) (hash string, ledger int64, err error) {
	form := url.Values{"tx": {signedXDR}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transactions",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("horizon submit: %w", err)
	}
	defer resp.Body.Close()

	var tx horizonTxResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tx); err != nil {
		return "", 0, fmt.Errorf("horizon submit decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := tx.Detail
		if detail == "" {
			detail = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return "", 0, fmt.Errorf("horizon submit rejected: %s", detail)
	}
	return tx.Hash, tx.Ledger, nil
}
