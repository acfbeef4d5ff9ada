package payment

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomrelay/backend/internal/config"
)

var (
	token    = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	receiver = common.HexToAddress("0x413b0733a6d7e32455aD735C0be637c342F33145")
	payer    = common.HexToAddress("0xAAAaaAAaAaaAaAaaAAAaaaaaaAAAAaaAAaaaAaAA")
	txHash   = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// fakeSource answers from fixed maps. block blocks every call until the
// context ends, like an unresponsive provider.
type fakeSource struct {
	receipts map[common.Hash]*types.Receipt
	pending  map[common.Hash]bool
	head     uint64
	err      error
	block    bool
	calls    int
}

func (f *fakeSource) wait(ctx context.Context) error {
	f.calls++
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := f.wait(ctx); err != nil {
		return nil, false, err
	}
	if pending, ok := f.pending[hash]; ok {
		return types.NewTx(&types.LegacyTx{Nonce: 1}), pending, nil
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.head, nil
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func transferLog(contract, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{transferTopic, addressTopic(from), addressTopic(to)},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func receipt(status uint64, block int64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(block), Logs: logs}
}

func sourceWith(r *types.Receipt) *fakeSource {
	return &fakeSource{receipts: map[common.Hash]*types.Receipt{txHash: r}, head: 100}
}

func newOracle(t *testing.T, sources ...*fakeSource) *Oracle {
	t.Helper()
	var eps []Endpoint
	for _, s := range sources {
		eps = append(eps, Endpoint{URL: "fake", Source: s})
	}
	o, err := New(Config{Token: token, Receiver: receiver, Amount: oneToken, Timeout: 50 * time.Millisecond, MinConfirmations: 1}, eps...)
	require.NoError(t, err)
	return o
}

func TestTransferTopic(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", transferTopic.Hex())
}

func TestVerify_ExactTransfer(t *testing.T) {
	o := newOracle(t, sourceWith(receipt(types.ReceiptStatusSuccessful, 90, transferLog(token, payer, receiver, oneToken))))

	res := o.Verify(context.Background(), txHash.Hex(), payer.Hex())

	assert.True(t, res.OK)
	assert.Empty(t, res.Reason)
}

func TestVerify_WalletCaseInsensitive(t *testing.T) {
	o := newOracle(t, sourceWith(receipt(types.ReceiptStatusSuccessful, 90, transferLog(token, payer, receiver, oneToken))))

	res := o.Verify(context.Background(), txHash.Hex(), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.True(t, res.OK)
}

func TestVerify_Rejections(t *testing.T) {
	other := common.HexToAddress("0xBBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	lessByOne := new(big.Int).Sub(oneToken, big.NewInt(1))
	moreByOne := new(big.Int).Add(oneToken, big.NewInt(1))

	tests := []struct {
		name    string
		receipt *types.Receipt
		reason  string
	}{
		{"one unit short", receipt(1, 90, transferLog(token, payer, receiver, lessByOne)), ReasonNoTransfer},
		{"one unit over", receipt(1, 90, transferLog(token, payer, receiver, moreByOne)), ReasonNoTransfer},
		{"wrong token", receipt(1, 90, transferLog(other, payer, receiver, oneToken)), ReasonNoTransfer},
		{"wrong sender", receipt(1, 90, transferLog(token, other, receiver, oneToken)), ReasonNoTransfer},
		{"wrong receiver", receipt(1, 90, transferLog(token, payer, other, oneToken)), ReasonNoTransfer},
		{"no logs", receipt(1, 90), ReasonNoTransfer},
		{"reverted", receipt(types.ReceiptStatusFailed, 90, transferLog(token, payer, receiver, oneToken)), ReasonReverted},
		{"removed log", func() *types.Receipt {
			l := transferLog(token, payer, receiver, oneToken)
			l.Removed = true
			return receipt(1, 90, l)
		}(), ReasonNoTransfer},
		{"dirty address topic", func() *types.Receipt {
			l := transferLog(token, payer, receiver, oneToken)
			l.Topics[1][0] = 0xff
			return receipt(1, 90, l)
		}(), ReasonNoTransfer},
		{"approval not transfer", func() *types.Receipt {
			l := transferLog(token, payer, receiver, oneToken)
			l.Topics[0] = common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925")
			return receipt(1, 90, l)
		}(), ReasonNoTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOracle(t, sourceWith(tt.receipt))
			res := o.Verify(context.Background(), txHash.Hex(), payer.Hex())
			assert.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestVerify_MatchAmongSeveralLogs(t *testing.T) {
	short := new(big.Int).Sub(oneToken, big.NewInt(1))
	o := newOracle(t, sourceWith(receipt(1, 90,
		transferLog(token, payer, receiver, short),
		transferLog(token, payer, receiver, oneToken),
	)))

	assert.True(t, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).OK)
}

func TestVerify_InputValidation(t *testing.T) {
	o := newOracle(t, sourceWith(nil))

	assert.Equal(t, ReasonInvalidHash, o.Verify(context.Background(), "0xTX1", payer.Hex()).Reason)
	assert.Equal(t, ReasonInvalidHash, o.Verify(context.Background(), "", payer.Hex()).Reason)
	assert.Equal(t, ReasonInvalidWallet, o.Verify(context.Background(), txHash.Hex(), "0xAAA").Reason)
}

func TestVerify_NotMinedAndUnknown(t *testing.T) {
	pending := &fakeSource{pending: map[common.Hash]bool{txHash: true}}
	o := newOracle(t, pending)
	assert.Equal(t, ReasonNotMined, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).Reason)

	unknown := &fakeSource{}
	o = newOracle(t, unknown)
	assert.Equal(t, ReasonNoReceipt, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).Reason)
}

func TestVerify_FallsBackToNextEndpoint(t *testing.T) {
	good := receipt(1, 90, transferLog(token, payer, receiver, oneToken))

	t.Run("transport error", func(t *testing.T) {
		broken := &fakeSource{err: errors.New("connection refused")}
		backup := sourceWith(good)
		o := newOracle(t, broken, backup)

		assert.True(t, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).OK)
		assert.Equal(t, 1, broken.calls)
		assert.Equal(t, 1, backup.calls)
	})

	t.Run("timeout", func(t *testing.T) {
		slow := &fakeSource{block: true}
		o := newOracle(t, slow, sourceWith(good))

		start := time.Now()
		assert.True(t, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).OK)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("lagging node", func(t *testing.T) {
		lagging := &fakeSource{}
		o := newOracle(t, lagging, sourceWith(good))

		assert.True(t, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).OK)
	})

	t.Run("conclusive answer stops", func(t *testing.T) {
		first := sourceWith(receipt(types.ReceiptStatusFailed, 90))
		second := sourceWith(good)
		o := newOracle(t, first, second)

		assert.Equal(t, ReasonReverted, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).Reason)
		assert.Zero(t, second.calls)
	})
}

func TestVerify_AllEndpointsDown(t *testing.T) {
	o := newOracle(t, &fakeSource{block: true}, &fakeSource{err: errors.New("503")})

	res := o.Verify(context.Background(), txHash.Hex(), payer.Hex())
	assert.False(t, res.OK)
	assert.Equal(t, ReasonUnavailable, res.Reason)
}

func TestVerify_Confirmations(t *testing.T) {
	src := sourceWith(receipt(1, 98, transferLog(token, payer, receiver, oneToken)))
	src.head = 99
	o, err := New(Config{Token: token, Receiver: receiver, Amount: oneToken, MinConfirmations: 3}, Endpoint{Source: src})
	require.NoError(t, err)

	assert.Equal(t, ReasonNotMined, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).Reason, "2 of 3 confirmations")

	src.head = 100
	assert.True(t, o.Verify(context.Background(), txHash.Hex(), payer.Hex()).OK, "3 of 3 confirmations")
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(config.PaymentConfig{
		TokenAddress:    token.Hex(),
		ReceiverAddress: receiver.Hex(),
		Decimals:        18,
		Amount:          "1",
	})
	require.NoError(t, err)
	assert.Equal(t, token, cfg.Token)
	assert.Equal(t, 0, cfg.Amount.Cmp(oneToken))

	_, err = NewConfig(config.PaymentConfig{TokenAddress: "nope", ReceiverAddress: receiver.Hex(), Decimals: 18, Amount: "1"})
	assert.Error(t, err)
	_, err = NewConfig(config.PaymentConfig{TokenAddress: token.Hex(), ReceiverAddress: receiver.Hex(), Decimals: 18, Amount: "one"})
	assert.Error(t, err)
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{Amount: oneToken})
	assert.Error(t, err)
}

func TestRequiredAmount_IsACopy(t *testing.T) {
	o := newOracle(t, sourceWith(nil))
	o.RequiredAmount().SetInt64(0)
	assert.Equal(t, 0, o.RequiredAmount().Cmp(oneToken))
}
