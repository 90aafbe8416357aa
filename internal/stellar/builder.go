package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BuilderClient produces unsigned envelopes by calling the tx-builder
// companion service, which owns XDR encoding and transaction simulation.
// The control plane only ever handles opaque base64 envelopes.
type BuilderClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewBuilderClient creates a tx-builder client.
func NewBuilderClient(baseURL string) *BuilderClient {
	return &BuilderClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// scArg is one typed contract-call argument.
type scArg struct {
	Type  string `json:"type"` // address, string, symbol, i128
	Value string `json:"value"`
}

type buildContractRequest struct {
	ContractID string  `json:"contract_id"`
	Method     string  `json:"method"`
	Args       []scArg `json:"args"`
	Source     string  `json:"source"`
}

type buildPaymentRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type buildResponse struct {
	XDR   string `json:"xdr"`
	Error string `json:"error"`
}

func (c *BuilderClient) BuildExecute(ctx context.Context, contractID, recipient string, amountStroops int64, source string) (string, error) {
	return c.buildContractCall(ctx, buildContractRequest{
		ContractID: contractID,
		Method:     "execute",
		Args: []scArg{
			{Type: "address", Value: recipient},
			{Type: "i128", Value: strconv.FormatInt(amountStroops, 10)},
		},
		Source: source,
	})
}

func (c *BuilderClient) BuildToggleActive(ctx context.Context, contractID, source string) (string, error) {
	return c.buildContractCall(ctx, buildContractRequest{
		ContractID: contractID,
		Method:     "toggle_active",
		Source:     source,
	})
}

func (c *BuilderClient) BuildInitialize(ctx context.Context, contractID, owner, name, strategy, source string) (string, error) {
	return c.buildContractCall(ctx, buildContractRequest{
		ContractID: contractID,
		Method:     "initialize",
		Args: []scArg{
			{Type: "address", Value: owner},
			{Type: "string", Value: name},
			{Type: "symbol", Value: strategy},
		},
		Source: source,
	})
}

func (c *BuilderClient) BuildPayment(ctx context.Context, source, destination, amount string) (string, error) {
	return c.post(ctx, "/build-payment", buildPaymentRequest{
		Source:      source,
		Destination: destination,
		Amount:      amount,
	})
}

func (c *BuilderClient) buildContractCall(ctx context.Context, req buildContractRequest) (string, error) {
	return c.post(ctx, "/build", req)
}

func (c *BuilderClient) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("tx-builder request: %w", err)
	}
	defer resp.Body.Close()

	var out buildResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("tx-builder decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return "", fmt.Errorf("tx-builder rejected: %s", msg)
	}
	if out.XDR == "" {
		return "", fmt.Errorf("tx-builder returned empty envelope")
	}
	return out.XDR, nil
}
