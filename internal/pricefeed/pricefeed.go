// Package pricefeed provides the XLM/USD price collaborator consumed by the
// price_alert strategy.
package pricefeed

import "context"

// Feed returns the current USD price of one XLM. Implementations return an
// error on any fetch or decode failure; the price_alert strategy deliberately
// propagates that error rather than treating it as a decision outcome.
type Feed interface {
	Price(ctx context.Context) (float64, error)
}
