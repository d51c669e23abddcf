package domain

import "errors"

// Error taxonomy for rebalance cycles. Components return these wrapped with
// context via fmt.Errorf("...: %w", err); the scheduler is the single place
// they are caught and converted into a structured run result.
var (
	// ErrDataUnavailable means the index or market-data fetch failed.
	// The cycle aborts early and is retried on the next interval.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrValuationUnavailable means no price path resolved for one asset.
	// The asset is valued at zero and the cycle continues.
	ErrValuationUnavailable = errors.New("valuation unavailable")

	// ErrOrderRejected means the exchange rejected a market order at
	// submission time despite passing pre-checks.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientFunds means a buy could not be funded from the
	// available quote balance. Buys are scaled down or skipped, never
	// failing the cycle.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCredentialsMissing is raised at session-start time, before any
	// loop iteration, and is fatal to starting that session only.
	ErrCredentialsMissing = errors.New("credentials missing")

	// ErrSessionNotFound means no session row exists for the given ID.
	ErrSessionNotFound = errors.New("session not found")
)
