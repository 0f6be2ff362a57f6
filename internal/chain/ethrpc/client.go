package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	chaindomain "github.com/launchblocks/creditgate/internal/chain/domain"
	"github.com/launchblocks/creditgate/internal/config"
	obsmetrics "github.com/launchblocks/creditgate/internal/observability/metrics"
	"go.uber.org/zap"
)

// Client reads transactions and receipts from an EVM JSON-RPC endpoint.
type Client struct {
	eth     *ethclient.Client
	log     *zap.Logger
	timeout time.Duration
	metrics *obsmetrics.Metrics
}

// New dials the configured RPC endpoint. Dialing an HTTP endpoint does not
// open a connection, so startup succeeds even while the provider is down.
func New(cfg config.ChainConfig, log *zap.Logger, m *obsmetrics.Metrics) (*Client, error) {
	url := strings.TrimSpace(cfg.RPCURL)
	if url == "" {
		return nil, errors.New("chain rpc url is required")
	}
	eth, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Client{
		eth:     eth,
		log:     log.Named("chain.ethrpc"),
		timeout: timeout,
		metrics: m,
	}, nil
}

func (c *Client) TransactionByHash(ctx context.Context, hash string) (*chaindomain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, pending, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, c.mapError("eth_getTransactionByHash", err)
	}
	c.record("eth_getTransactionByHash", "ok")

	out := &chaindomain.Transaction{
		Hash:    tx.Hash().Hex(),
		Value:   tx.Value(),
		Pending: pending,
	}
	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}
	if chainID := tx.ChainId(); chainID != nil {
		out.ChainID = chainID.Int64()
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		out.From = from.Hex()
	} else {
		c.log.Debug("sender recovery failed", zap.String("tx", hash), zap.Error(err))
	}
	return out, nil
}

func (c *Client) ReceiptByHash(ctx context.Context, hash string) (*chaindomain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, c.mapError("eth_getTransactionReceipt", err)
	}
	c.record("eth_getTransactionReceipt", "ok")

	out := &chaindomain.Receipt{
		Status: receipt.Status,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	out.Logs = make([]chaindomain.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		topics := make([]string, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, t.Hex())
		}
		out.Logs = append(out.Logs, chaindomain.Log{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    l.Data,
		})
	}
	return out, nil
}

func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, c.mapError("eth_blockNumber", err)
	}
	c.record("eth_blockNumber", "ok")
	return head, nil
}

func (c *Client) mapError(method string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		c.record(method, "not_found")
		return chaindomain.ErrTxNotFound
	}
	c.record(method, "error")
	c.log.Warn("rpc request failed", zap.String("method", method), zap.Error(err))
	return fmt.Errorf("%w: %v", chaindomain.ErrUnavailable, err)
}

func (c *Client) record(method, result string) {
	c.metrics.RecordChainRPC(method, result)
}

var _ chaindomain.Reader = (*Client)(nil)
