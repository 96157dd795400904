package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnavailable marks failures where the node could not be reached or did not answer in time.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected marks failures where the node answered and refused the request.
	ErrRejected = errors.New("ledger rejected request")
)

// BalanceReader reads native balances.
type BalanceReader interface {
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
}

// Client abstracts the relay wallet's view of the chain.
type Client interface {
	BalanceReader
	Send(ctx context.Context, transfer Transfer) (Receipt, error)
	Address() common.Address
}

// HealthChecker is implemented by clients that can check the node cheaply.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Transfer struct {
	To    common.Address
	Value *big.Int // wei
}

// Receipt is returned once the node accepted the transaction for broadcast.
// It says nothing about inclusion.
type Receipt struct {
	TxHash string
	Nonce  uint64
}
