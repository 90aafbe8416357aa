// Package stellar holds the collaborator interfaces the scheduler consumes
// (balance reads, transaction building, and submission) plus their HTTP
// implementations against Horizon and Soroban RPC. Wallet cryptography and
// XDR encoding stay outside this service: building delegates to the tx-builder
// companion, and submission only forwards already-signed envelopes.
package stellar

import (
	"context"
	"regexp"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// BalanceFetcher reads an account's native XLM balance as a decimal string.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, account string) (string, error)
}

// TxBuilder produces unsigned transaction envelopes (base64 XDR) for the
// agent contract and for classic payments.
type TxBuilder interface {
	BuildExecute(ctx context.Context, contractID, recipient string, amountStroops int64, source string) (string, error)
	BuildToggleActive(ctx context.Context, contractID, source string) (string, error)
	BuildInitialize(ctx context.Context, contractID, owner, name, strategy, source string) (string, error)
	BuildPayment(ctx context.Context, source, destination, amount string) (string, error)
}

// TxSubmitter submits a signed envelope and reports its terminal status.
type TxSubmitter interface {
	Submit(ctx context.Context, signedXDR string) (*models.SubmitResult, error)
}

// Addresses start with G and are 56 chars of base32.
var addressPattern = regexp.MustCompile(`^G[A-Z2-7]{55}$`)

// IsValidAddress reports whether s looks like a Stellar account address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}
