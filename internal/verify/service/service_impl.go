package service

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	chaindomain "github.com/launchblocks/creditgate/internal/chain/domain"
	"github.com/launchblocks/creditgate/internal/config"
	verifydomain "github.com/launchblocks/creditgate/internal/verify/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// paidEventSig is the topic0 of Paid(address payer, address token, uint256
// amount) emitted by the payment gateway contract for token payments.
var paidEventSig = crypto.Keccak256Hash([]byte("Paid(address,address,uint256)")).Hex()

type Params struct {
	fx.In

	Reader chaindomain.Reader
	Log    *zap.Logger
	Cfg    config.Config
}

type Service struct {
	reader           chaindomain.Reader
	log              *zap.Logger
	minConfirmations uint64
}

func NewService(p Params) verifydomain.Validator {
	return &Service{
		reader:           p.Reader,
		log:              p.Log.Named("verify.service"),
		minConfirmations: p.Cfg.Chain.MinConfirmations,
	}
}

// Validate is a pure decision over chain state: calling it again for the
// same finalized hash yields the same result. A hash can move from
// NOT_FOUND to found as blocks are mined.
func (s *Service) Validate(ctx context.Context, req verifydomain.Request) (verifydomain.Result, error) {
	tx, err := s.reader.TransactionByHash(ctx, req.TxHash)
	if err != nil {
		if errors.Is(err, chaindomain.ErrTxNotFound) {
			return invalid(verifydomain.ReasonNotFound), nil
		}
		return verifydomain.Result{}, err
	}
	if tx.Pending {
		return invalid(verifydomain.ReasonNotFound), nil
	}

	switch req.Rail {
	case verifydomain.RailGatewayEvent:
		return s.validateGatewayEvent(ctx, req, tx)
	default:
		return s.validateNative(ctx, req, tx)
	}
}

func (s *Service) validateNative(ctx context.Context, req verifydomain.Request, tx *chaindomain.Transaction) (verifydomain.Result, error) {
	if !addressEqual(tx.To, req.Recipient) {
		return invalid(verifydomain.ReasonWrongRecipient), nil
	}
	if req.MinAmount != nil && tx.Value.Cmp(req.MinAmount) < 0 {
		return invalid(verifydomain.ReasonUnderpaid), nil
	}

	if _, reason, err := s.confirmedReceipt(ctx, req.TxHash); err != nil || reason != "" {
		return invalid(reason), err
	}

	return verifydomain.Result{
		Valid:  true,
		Amount: new(big.Int).Set(tx.Value),
		Payer:  tx.From,
	}, nil
}

func (s *Service) validateGatewayEvent(ctx context.Context, req verifydomain.Request, tx *chaindomain.Transaction) (verifydomain.Result, error) {
	receipt, reason, err := s.confirmedReceipt(ctx, req.TxHash)
	if err != nil || reason != "" {
		return invalid(reason), err
	}

	payer, amount := findPaidEvent(receipt, req.Recipient)
	if amount == nil {
		return invalid(verifydomain.ReasonWrongRecipient), nil
	}
	if req.MinAmount != nil && amount.Cmp(req.MinAmount) < 0 {
		return invalid(verifydomain.ReasonUnderpaid), nil
	}

	return verifydomain.Result{
		Valid:  true,
		Amount: amount,
		Payer:  payer,
	}, nil
}

// confirmedReceipt fetches the receipt and applies the execution-status and
// confirmation-depth checks shared by both rails. A shallow receipt reports
// NOT_FOUND so callers retry instead of rejecting the hash.
func (s *Service) confirmedReceipt(ctx context.Context, hash string) (*chaindomain.Receipt, verifydomain.Reason, error) {
	receipt, err := s.reader.ReceiptByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, chaindomain.ErrTxNotFound) {
			return nil, verifydomain.ReasonNotFound, nil
		}
		return nil, "", err
	}
	if receipt.Status != chaindomain.ReceiptStatusSuccess {
		return nil, verifydomain.ReasonTxFailed, nil
	}

	if s.minConfirmations > 0 {
		head, err := s.reader.HeadBlockNumber(ctx)
		if err != nil {
			return nil, "", err
		}
		if head < receipt.BlockNumber || head-receipt.BlockNumber+1 < s.minConfirmations {
			s.log.Debug("receipt below confirmation depth",
				zap.String("tx", hash),
				zap.Uint64("head", head),
				zap.Uint64("block", receipt.BlockNumber),
			)
			return nil, verifydomain.ReasonNotFound, nil
		}
	}

	return receipt, "", nil
}

// findPaidEvent scans receipt logs for a Paid event emitted by the gateway
// and returns the decoded payer and amount.
func findPaidEvent(receipt *chaindomain.Receipt, gateway string) (string, *big.Int) {
	for _, l := range receipt.Logs {
		if !addressEqual(l.Address, gateway) {
			continue
		}
		if len(l.Topics) < 3 || !strings.EqualFold(l.Topics[0], paidEventSig) {
			continue
		}
		payer := common.BytesToAddress(common.FromHex(l.Topics[1])).Hex()
		amount := new(big.Int).SetBytes(l.Data)
		return payer, amount
	}
	return "", nil
}

func addressEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

func invalid(reason verifydomain.Reason) verifydomain.Result {
	return verifydomain.Result{Valid: false, Reason: reason}
}

// RailFromPricing maps a price-table rail onto the validator's rail.
func RailFromPricing(rail config.PaymentRail) verifydomain.Rail {
	if rail == config.RailGatewayEvent {
		return verifydomain.RailGatewayEvent
	}
	return verifydomain.RailNative
}

var _ verifydomain.Validator = (*Service)(nil)
