package domain

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrTxNotFound means the queried node does not know the hash. It may
	// simply not be mined yet, so callers treat this as retryable.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrUnavailable wraps network and timeout failures against the RPC
	// provider.
	ErrUnavailable = errors.New("rpc unavailable")
)

// ReceiptStatusSuccess is the EVM receipt status of a successful execution.
const ReceiptStatusSuccess uint64 = 1

// Transaction is the subset of an EVM transaction the payment path needs.
type Transaction struct {
	Hash    string
	From    string
	To      string // empty for contract creation
	Value   *big.Int
	ChainID int64
	Pending bool
}

// Log is one event emitted during transaction execution.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
}

// Receipt is the confirmation record of a mined transaction.
type Receipt struct {
	Status      uint64
	BlockNumber uint64
	Logs        []Log
}

// Reader fetches on-chain facts. Implementations do not retry; the meaning
// of "not found" (pending vs never existed) belongs to the caller.
type Reader interface {
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
	ReceiptByHash(ctx context.Context, hash string) (*Receipt, error)
	HeadBlockNumber(ctx context.Context) (uint64, error)
}
