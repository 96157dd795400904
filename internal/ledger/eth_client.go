package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the node API the relay wallet needs.
// *ethclient.Client and the simulated backend client both satisfy it.
type Backend interface {
	ethereum.ChainStateReader
	ethereum.PendingStateReader
	ethereum.GasPricer
	ethereum.GasEstimator
	ethereum.TransactionSender
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
}

// EthClient signs native transfers with the relay wallet key and broadcasts them.
type EthClient struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer

	// sendSlot serialises nonce assignment and broadcast for the single relay
	// account. It is a channel so that waiting for it honours ctx.
	sendSlot   chan struct{}
	nonce      uint64
	nonceKnown bool

	closeOnce sync.Once
	closeFn   func()
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

// NewEthClient dials the node and binds the relay wallet key to it.
func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	key, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	c, err := NewEthClientWithBackend(ctx, cli, key)
	if err != nil {
		cli.Close()
		return nil, err
	}
	c.closeFn = cli.Close
	return c, nil
}

// NewEthClientWithBackend binds key to an already connected backend.
func NewEthClientWithBackend(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*EthClient, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required for submitting transfers")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", classify(err))
	}
	return &EthClient{
		backend:  backend,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		sendSlot: make(chan struct{}, 1),
	}, nil
}

// ParsePrivateKey accepts a hex secp256k1 key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Address() common.Address {
	return c.address
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", address.Hex(), classify(err))
	}
	return bal, nil
}

// Send signs and broadcasts a plain value transfer. Only one Send runs at a time so
// that every broadcast consumes a distinct nonce. The cached nonce is advanced only
// when the node accepts the transaction and is re-read from the node after any failure.
func (c *EthClient) Send(ctx context.Context, transfer Transfer) (Receipt, error) {
	if transfer.Value == nil || transfer.Value.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("transfer value must be positive")
	}

	select {
	case c.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("wait for send slot: %w", classify(ctx.Err()))
	}
	defer func() { <-c.sendSlot }()

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return Receipt{}, err
	}

	receipt, err := c.signAndBroadcast(ctx, nonce, transfer)
	if err != nil {
		c.nonceKnown = false
		return Receipt{}, err
	}
	c.nonce = nonce + 1
	return receipt, nil
}

func (c *EthClient) signAndBroadcast(ctx context.Context, nonce uint64, transfer Transfer) (Receipt, error) {
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("suggest gas price: %w", classify(err))
	}

	to := transfer.To
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: transfer.Value,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("estimate gas: %w", classify(err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int).Set(transfer.Value),
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign transfer: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, fmt.Errorf("broadcast transfer: %w", classify(err))
	}
	return Receipt{TxHash: signed.Hash().Hex(), Nonce: nonce}, nil
}

// nextNonce must be called while holding sendSlot.
func (c *EthClient) nextNonce(ctx context.Context) (uint64, error) {
	if c.nonceKnown {
		return c.nonce, nil
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", classify(err))
	}
	c.nonce = nonce
	c.nonceKnown = true
	return nonce, nil
}

// Close drops the node connection when the client dialled it. It is safe to call twice.
func (c *EthClient) Close() {
	c.closeOnce.Do(func() {
		if c.closeFn != nil {
			c.closeFn()
		}
	})
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.backend.BlockNumber(ctx)
	return classify(err)
}

// rejectionMarkers are fragments of node error messages that mean the request
// reached the node and was refused.
var rejectionMarkers = []string{
	"nonce too low",
	"nonce too high",
	"insufficient funds",
	"underpriced",
	"intrinsic gas too low",
	"fee cap",
	"exceeds block gas limit",
	"already known",
	"execution reverted",
	"gas required exceeds",
	"invalid sender",
}

// classify tags err with ErrRejected when the node answered and ErrUnavailable otherwise.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnavailable) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
