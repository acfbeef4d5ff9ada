// Package payment verifies on-chain token payments by transaction hash.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
)

// Failure reasons. They are shown to users.
const (
	ReasonInvalidHash   = "invalid transaction hash"
	ReasonInvalidWallet = "invalid wallet address"
	ReasonNotMined      = "not mined"
	ReasonNoReceipt     = "no receipt"
	ReasonReverted      = "transaction reverted"
	ReasonNoTransfer    = "no matching transfer"
	ReasonUnavailable   = "payment provider unavailable"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ReceiptSource is the slice of a JSON-RPC client the oracle needs.
// *ethclient.Client implements it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Endpoint is one chain-data provider. Endpoints are consulted in order.
type Endpoint struct {
	URL    string
	Source ReceiptSource
}

// Result is the outcome of a verification. A negative result is not an error.
type Result struct {
	OK     bool
	Reason string
}

func fail(reason string) Result { return Result{Reason: reason} }

// Config is the payment every room registration must match.
type Config struct {
	Token            common.Address
	Receiver         common.Address
	Amount           *big.Int // smallest token unit
	Timeout          time.Duration
	MinConfirmations uint64
}

// NewConfig validates the configured addresses and converts the amount.
func NewConfig(pc config.PaymentConfig) (Config, error) {
	if !common.IsHexAddress(pc.TokenAddress) {
		return Config{}, fmt.Errorf("payment.token_address: %q is not an address", pc.TokenAddress)
	}
	if !common.IsHexAddress(pc.ReceiverAddress) {
		return Config{}, fmt.Errorf("payment.receiver_address: %q is not an address", pc.ReceiverAddress)
	}
	amount, err := ToBaseUnits(pc.Amount, pc.Decimals)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Token:            common.HexToAddress(pc.TokenAddress),
		Receiver:         common.HexToAddress(pc.ReceiverAddress),
		Amount:           amount,
		Timeout:          pc.Timeout,
		MinConfirmations: pc.MinConfirmations,
	}, nil
}

// Oracle checks that a transaction carries the exact required token transfer.
type Oracle struct {
	cfg       Config
	endpoints []Endpoint
}

func New(cfg Config, endpoints ...Endpoint) (*Oracle, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("payment: no chain endpoints")
	}
	if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
		return nil, errors.New("payment: required amount must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Oracle{cfg: cfg, endpoints: endpoints}, nil
}

// Dial connects to every configured RPC URL. URLs that fail to dial are
// skipped; at least one must succeed.
func Dial(ctx context.Context, pc config.PaymentConfig) (*Oracle, error) {
	cfg, err := NewConfig(pc)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, url := range pc.RPCURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.L().Warn().Err(err).Str("rpc_url", url).Msg("skipping chain endpoint")
			continue
		}
		endpoints = append(endpoints, Endpoint{URL: url, Source: client})
	}
	return New(cfg, endpoints...)
}

// RequiredAmount returns the exact transfer amount in the token's smallest unit.
func (o *Oracle) RequiredAmount() *big.Int {
	return new(big.Int).Set(o.cfg.Amount)
}

// Close releases the endpoint connections.
func (o *Oracle) Close() {
	for _, ep := range o.endpoints {
		if c, ok := ep.Source.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Verify checks that txHash is a successful transaction containing a Transfer
// of exactly the required amount of the configured token from wallet to the
// configured receiver. Endpoints that fail or have not seen the receipt yet
// are skipped in favor of the next one.
func (o *Oracle) Verify(ctx context.Context, txHash, wallet string) Result {
	if !txHashPattern.MatchString(txHash) {
		return fail(ReasonInvalidHash)
	}
	if !common.IsHexAddress(wallet) {
		return fail(ReasonInvalidWallet)
	}
	hash := common.HexToHash(txHash)
	sender := common.HexToAddress(wallet)
	logger := log.Ctx(ctx).With().Str(log.FieldTxHash, hash.Hex()).Str(log.FieldWallet, sender.Hex()).Logger()

	var best *Result
	for _, ep := range o.endpoints {
		if ctx.Err() != nil {
			break
		}
		res, conclusive, err := o.check(ctx, ep, hash, sender)
		if err != nil {
			logger.Warn().Err(err).Str("rpc_url", ep.URL).Msg("chain endpoint failed")
			continue
		}
		if conclusive {
			logger.Info().Bool("ok", res.OK).Str("reason", res.Reason).Str("rpc_url", ep.URL).Msg("payment checked")
			return res
		}
		if best == nil || res.Reason == ReasonNotMined {
			best = &res
		}
	}

	if best == nil {
		return fail(ReasonUnavailable)
	}
	return *best
}

// check asks a single endpoint. conclusive is false when another endpoint
// might know more (receipt not found yet, too few confirmations).
func (o *Oracle) check(ctx context.Context, ep Endpoint, hash common.Hash, sender common.Address) (res Result, conclusive bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	receipt, err := ep.Source.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		_, _, txErr := ep.Source.TransactionByHash(ctx, hash)
		switch {
		case txErr == nil:
			// Pending, or mined but not indexed by this node yet.
			return fail(ReasonNotMined), false, nil
		case errors.Is(txErr, ethereum.NotFound):
			return fail(ReasonNoReceipt), false, nil
		default:
			return Result{}, false, fmt.Errorf("transaction lookup: %w", txErr)
		}
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("receipt lookup: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(ReasonReverted), true, nil
	}

	if o.cfg.MinConfirmations > 1 {
		head, err := ep.Source.BlockNumber(ctx)
		if err != nil {
			return Result{}, false, fmt.Errorf("block number: %w", err)
		}
		if receipt.BlockNumber == nil || head+1 < receipt.BlockNumber.Uint64()+o.cfg.MinConfirmations {
			return fail(ReasonNotMined), false, nil
		}
	}

	if !matchTransfer(receipt.Logs, o.cfg.Token, sender, o.cfg.Receiver, o.cfg.Amount) {
		return fail(ReasonNoTransfer), true, nil
	}
	return Result{OK: true}, true, nil
}

// matchTransfer looks for an ERC-20 Transfer(from, to, amount) log emitted by
// token with exactly the given amount.
func matchTransfer(logs []*types.Log, token, from, to common.Address, amount *big.Int) bool {
	for _, l := range logs {
		if l == nil || l.Removed || l.Address != token {
			continue
		}
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		src, ok := topicAddress(l.Topics[1])
		if !ok || src != from {
			continue
		}
		dst, ok := topicAddress(l.Topics[2])
		if !ok || dst != to {
			continue
		}
		if len(l.Data) != 32 {
			continue
		}
		if new(big.Int).SetBytes(l.Data).Cmp(amount) == 0 {
			return true
		}
	}
	return false
}

// topicAddress decodes an indexed address topic. The upper 12 bytes must be zero.
func topicAddress(h common.Hash) (common.Address, bool) {
	for _, b := range h[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, false
		}
	}
	return common.BytesToAddress(h[common.HashLength-common.AddressLength:]), true
}
