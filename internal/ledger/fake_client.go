package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient emulates a node in memory: balances move on Send and transaction
// hashes are derived deterministically from sender, nonce, recipient and value.
// Used for dry runs and tests.
type FakeClient struct {
	From common.Address

	mu       sync.Mutex
	balances map[common.Address]*big.Int
	nonce    uint64
}

func NewFakeClient(from common.Address, funds *big.Int) *FakeClient {
	f := &FakeClient{
		From:     from,
		balances: make(map[common.Address]*big.Int),
	}
	if funds != nil {
		f.balances[from] = new(big.Int).Set(funds)
	}
	return f
}

func (f *FakeClient) Address() common.Address {
	return f.From
}

// SetBalance overrides the balance held by address.
func (f *FakeClient) SetBalance(address common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = new(big.Int).Set(wei)
}

func (f *FakeClient) Balance(_ context.Context, address common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceOf(address), nil
}

func (f *FakeClient) Send(_ context.Context, transfer Transfer) (Receipt, error) {
	if transfer.Value == nil || transfer.Value.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("transfer value must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	funds := f.balanceOf(f.From)
	if funds.Cmp(transfer.Value) < 0 {
		return Receipt{}, fmt.Errorf("%w: insufficient funds for transfer", ErrRejected)
	}
	f.balances[f.From] = funds.Sub(funds, transfer.Value)
	f.balances[transfer.To] = new(big.Int).Add(f.balanceOf(transfer.To), transfer.Value)

	nonce := f.nonce
	f.nonce++
	return Receipt{
		TxHash: fakeHash(fmt.Sprintf("%s:%d:%s:%s", f.From.Hex(), nonce, transfer.To.Hex(), transfer.Value)),
		Nonce:  nonce,
	}, nil
}

func (f *FakeClient) Ping(context.Context) error {
	return nil
}

// balanceOf must be called with mu held.
func (f *FakeClient) balanceOf(address common.Address) *big.Int {
	if bal, ok := f.balances[address]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
