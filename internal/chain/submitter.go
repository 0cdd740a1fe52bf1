package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"commerce-sync/internal/util"
)

// Default safety margin applied on top of the gas estimate.
const (
	DefaultMarginNumerator   = 13
	DefaultMarginDenominator = 10
)

// Receipt is the confirmed result of a submitted transaction.
type Receipt struct {
	TxHash  string
	GasUsed uint64
}

// Submitter sends mutating calls with estimate-then-send gas budgeting.
// Every send is a non-idempotent chain transaction: after a failure the same
// logical intent must not be reissued without re-reading chain state first.
type Submitter struct {
	gateway        *Gateway
	key            *ecdsa.PrivateKey
	chainID        *big.Int
	marginNum      *big.Int
	marginDen      *big.Int
	receiptTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger

	// serializes nonce acquisition through send so concurrent sends never
	// reuse a nonce
	mu sync.Mutex
}

// NewSubmitter builds a submitter over the gateway, signing with the given
// hex-encoded private key. The key must control the gateway's from account.
func NewSubmitter(ctx context.Context, gateway *Gateway, hexKey string, receiptTimeout time.Duration) (*Submitter, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid submitter key: %w", err)
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != gateway.From() {
		return nil, fmt.Errorf("submitter key controls %s, config says %s", derived.Hex(), gateway.From().Hex())
	}

	chainID, err := gateway.backend.ChainID(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if receiptTimeout <= 0 {
		receiptTimeout = 90 * time.Second
	}

	return &Submitter{
		gateway:        gateway,
		key:            key,
		chainID:        chainID,
		marginNum:      big.NewInt(DefaultMarginNumerator),
		marginDen:      big.NewInt(DefaultMarginDenominator),
		receiptTimeout: receiptTimeout,
		pollInterval:   time.Second,
		logger:         util.GetLogger(),
	}, nil
}

// SetMargin overrides the default 13/10 gas safety margin.
func (s *Submitter) SetMargin(numerator, denominator int64) {
	if numerator > 0 && denominator > 0 {
		s.marginNum = big.NewInt(numerator)
		s.marginDen = big.NewInt(denominator)
	}
}

// SendWithMargin estimates gas for the call, inflates the estimate by the
// margin using ceiling division, signs and submits, then waits for the
// receipt. An EstimationError surfaces before any funds move; a
// SubmissionError after submission is ambiguous and the caller must re-read
// chain state before retrying.
func (s *Submitter) SendWithMargin(ctx context.Context, call Call) (*Receipt, error) {
	estimate, err := s.gateway.EstimateGas(ctx, call)
	if err != nil {
		return nil, &EstimationError{Cause: err}
	}
	gasLimit := mulDivCeil(estimate, s.marginNum, s.marginDen)

	txHash, err := s.submit(ctx, call, estimate, gasLimit)
	if err != nil {
		return nil, err
	}

	receipt, err := s.waitMined(ctx, txHash)
	if err != nil {
		return nil, &SubmissionError{TxHash: txHash.Hex(), Cause: err}
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, &SubmissionError{TxHash: txHash.Hex(), Cause: &RevertError{}}
	}

	s.logger.Info("Transaction mined",
		zap.String("call", call.Name),
		zap.String("tx_hash", txHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed))

	return &Receipt{TxHash: txHash.Hex(), GasUsed: receipt.GasUsed}, nil
}

// submit signs a legacy transaction with a fresh pending nonce and the
// provider's suggested gas price, then sends it. The mutex is held until the
// send lands at the provider: releasing earlier would let a concurrent send
// read the same pending nonce.
func (s *Submitter) submit(ctx context.Context, call Call, estimate, gasLimit *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.gateway.backend.PendingNonceAt(ctx, s.gateway.From())
	if err != nil {
		return common.Hash{}, &SubmissionError{Cause: classify(err)}
	}
	gasPrice, err := s.gateway.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, &SubmissionError{Cause: classify(err)}
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTransaction(nonce, call.To, value, gasLimit.Uint64(), gasPrice, call.Data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	txHash := signed.Hash()

	s.logger.Info("Submitting transaction",
		zap.String("call", call.Name),
		zap.String("tx_hash", txHash.Hex()),
		zap.String("gas_estimate", estimate.String()),
		zap.String("gas_limit", gasLimit.String()))
	util.ChainSubmissionsTotal.WithLabelValues(call.Name).Inc()

	if err := s.gateway.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &SubmissionError{Cause: classify(err)}
	}
	return txHash, nil
}

// waitMined polls for the receipt until mined or the receipt timeout lapses.
// A timeout is reported as unreachable, not as a revert: the transaction may
// still mine later.
func (s *Submitter) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.gateway.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if cerr := classify(err); !IsUnreachable(cerr) {
				return nil, cerr
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: receipt not observed within %s", ErrUnreachable, s.receiptTimeout)
		case <-ticker.C:
		}
	}
}

// mulDivCeil computes ceil(a*num/den) without floating point, so large gas
// values never lose precision.
func mulDivCeil(a, num, den *big.Int) *big.Int {
	product := new(big.Int).Mul(a, num)
	q, r := new(big.Int).QuoRem(product, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
