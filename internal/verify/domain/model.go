package domain

import (
	"context"
	"math/big"
)

// Reason explains why a transaction failed validation.
type Reason string

const (
	// ReasonNotFound covers unknown and not-yet-mined hashes; retryable.
	ReasonNotFound Reason = "NOT_FOUND"
	// ReasonWrongRecipient means the payment did not reach the gateway.
	ReasonWrongRecipient Reason = "WRONG_RECIPIENT"
	// ReasonUnderpaid means the amount is below the tag's minimum.
	ReasonUnderpaid Reason = "UNDERPAID"
	// ReasonTxFailed means the transaction reverted on chain.
	ReasonTxFailed Reason = "TX_FAILED"
)

// Retryable reports whether a new attempt with the same hash can succeed
// later. Everything except NOT_FOUND is terminal for that hash.
func (r Reason) Retryable() bool {
	return r == ReasonNotFound
}

// Rail selects which on-chain evidence proves the payment.
type Rail string

const (
	RailNative       Rail = "native"
	RailGatewayEvent Rail = "gateway_event"
)

// Request describes one validation: the claimed hash plus the server-side
// expectations. MinAmount nil means no minimum.
type Request struct {
	TxHash    string
	Recipient string
	MinAmount *big.Int
	Rail      Rail
}

// Result is the validator's decision over immutable on-chain facts. Amount is
// set only when Valid; Payer is informational (set when recoverable).
type Result struct {
	Valid  bool
	Reason Reason
	Amount *big.Int
	Payer  string
}

// Validator decides whether a transaction hash constitutes valid payment.
// RPC failures surface as errors, never as a Reason.
type Validator interface {
	Validate(ctx context.Context, req Request) (Result, error)
}
