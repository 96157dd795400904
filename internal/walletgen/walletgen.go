// Package walletgen bootstraps the relay wallet: it derives or reuses a signing key,
// persists it to an env file the relay reads at startup, and waits for the wallet
// to be funded.
package walletgen

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"faucetrelay/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// DerivationPath is the first Ethereum account of a BIP-44 wallet.
const DerivationPath = "m/44'/60'/0'/0/0"

var (
	ErrAddressMismatch = errors.New("ADDRESS does not match PRIVATE_KEY")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

type Wallet struct {
	Key      *ecdsa.PrivateKey
	Address  common.Address
	Mnemonic string
}

// PrivateKeyHex returns the key as 0x-prefixed hex, the format the relay expects.
func (w Wallet) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(w.Key))
}

// Generate creates a wallet from a fresh 12-word mnemonic.
func Generate() (Wallet, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return Wallet{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Wallet{}, err
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic derives the wallet at DerivationPath with an empty passphrase.
func FromMnemonic(mnemonic string) (Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return Wallet{}, err
	}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		0,
	}
	for _, idx := range path {
		if key, err = key.NewChildKey(idx); err != nil {
			return Wallet{}, fmt.Errorf("derive %s: %w", DerivationPath, err)
		}
	}

	// bip32 may drop leading zero bytes.
	priv, err := crypto.ToECDSA(common.LeftPadBytes(key.Key, 32))
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Key: priv, Address: crypto.PubkeyToAddress(priv.PublicKey), Mnemonic: mnemonic}, nil
}

// FromEnv rebuilds a wallet from PRIVATE_KEY and ADDRESS. ok is false when either is unset.
func FromEnv(env map[string]string) (w Wallet, ok bool, err error) {
	rawKey, rawAddr := env["PRIVATE_KEY"], env["ADDRESS"]
	if rawKey == "" || rawAddr == "" {
		return Wallet{}, false, nil
	}

	key, err := ledger.ParsePrivateKey(rawKey)
	if err != nil {
		return Wallet{}, true, err
	}
	addr, err := ledger.ParseAddress(rawAddr)
	if err != nil {
		return Wallet{}, true, fmt.Errorf("ADDRESS: %w", err)
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != addr {
		return Wallet{}, true, fmt.Errorf("%w: key belongs to %s", ErrAddressMismatch, derived.Hex())
	}
	return Wallet{Key: key, Address: addr, Mnemonic: env["MNEMONIC"]}, true, nil
}

// WriteEnv writes the wallet and RPC endpoint to path, replacing the file.
func WriteEnv(path string, w Wallet, rpcURL string) error {
	env := map[string]string{
		"PRIVATE_KEY": w.PrivateKeyHex(),
		"ADDRESS":     w.Address.Hex(),
		"RPC_URL":     rpcURL,
	}
	if w.Mnemonic != "" {
		env["MNEMONIC"] = w.Mnemonic
	}
	return godotenv.Write(env, path)
}

// WaitForFunds polls address every interval until its balance is strictly above minBalance.
// Read errors are logged and retried. onPoll, if set, sees every successful read.
func WaitForFunds(ctx context.Context, reader ledger.BalanceReader, address common.Address, minBalance *big.Int, interval time.Duration, onPoll func(*big.Int)) (*big.Int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		bal, err := reader.Balance(ctx, address)
		switch {
		case err != nil:
			slog.Warn("balance poll failed", "address", address.Hex(), "error", err)
		default:
			if onPoll != nil {
				onPoll(bal)
			}
			if bal.Cmp(minBalance) > 0 {
				return bal, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
