package walletgen

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"faucetrelay/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const (
	devMnemonic = "test test test test test test test test test test test junk"
	devAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	devKey      = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func TestFromMnemonicKnownVector(t *testing.T) {
	w, err := FromMnemonic(devMnemonic)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if w.Address.Hex() != devAddress {
		t.Fatalf("expected %s got %s", devAddress, w.Address.Hex())
	}
	if w.PrivateKeyHex() != devKey {
		t.Fatalf("unexpected key %s", w.PrivateKeyHex())
	}
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	if _, err := FromMnemonic("not a real mnemonic at all"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestGenerateIsReproducibleFromMnemonic(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n := len(strings.Fields(w.Mnemonic)); n != 12 {
		t.Fatalf("expected 12 words, got %d", n)
	}
	again, err := FromMnemonic(w.Mnemonic)
	if err != nil {
		t.Fatalf("rederive: %v", err)
	}
	if again.Address != w.Address {
		t.Fatalf("expected %s got %s", w.Address.Hex(), again.Address.Hex())
	}
}

func TestFromEnv(t *testing.T) {
	if _, ok, err := FromEnv(map[string]string{"PRIVATE_KEY": devKey}); ok || err != nil {
		t.Fatalf("expected no wallet without ADDRESS, ok=%v err=%v", ok, err)
	}

	w, ok, err := FromEnv(map[string]string{"PRIVATE_KEY": devKey, "ADDRESS": devAddress})
	if !ok || err != nil {
		t.Fatalf("expected wallet, ok=%v err=%v", ok, err)
	}
	if w.Address.Hex() != devAddress {
		t.Fatalf("unexpected address %s", w.Address.Hex())
	}

	other := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if _, _, err := FromEnv(map[string]string{"PRIVATE_KEY": devKey, "ADDRESS": other}); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("expected ErrAddressMismatch, got %v", err)
	}
}

func TestWriteEnvRoundTrip(t *testing.T) {
	w, err := FromMnemonic(devMnemonic)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := WriteEnv(path, w, "http://localhost:8545"); err != nil {
		t.Fatalf("write: %v", err)
	}

	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if env["RPC_URL"] != "http://localhost:8545" || env["MNEMONIC"] != devMnemonic {
		t.Fatalf("unexpected env: %v", env)
	}
	back, ok, err := FromEnv(env)
	if !ok || err != nil || back.Address != w.Address {
		t.Fatalf("expected to reload the same wallet, ok=%v err=%v", ok, err)
	}
}

type scriptedBalances struct {
	mu    sync.Mutex
	reads []*big.Int
	errs  []error
	calls int
}

func (s *scriptedBalances) Balance(context.Context, common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.reads) {
		i = len(s.reads) - 1
	}
	return s.reads[i], s.errs[i]
}

func TestWaitForFunds(t *testing.T) {
	floor, _ := ledger.ParseEther("0.1")
	reader := &scriptedBalances{
		reads: []*big.Int{big.NewInt(0), nil, new(big.Int).Set(floor), new(big.Int).Add(floor, big.NewInt(1))},
		errs:  []error{nil, errors.New("connection reset"), nil, nil},
	}

	var seen int
	bal, err := WaitForFunds(context.Background(), reader, common.Address{}, floor, time.Millisecond, func(*big.Int) { seen++ })
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if bal.Cmp(floor) <= 0 {
		t.Fatalf("expected balance above minimum, got %s", bal)
	}
	if reader.calls != 4 || seen != 3 {
		t.Fatalf("expected 4 reads and 3 successful polls, got %d and %d", reader.calls, seen)
	}
}

func TestWaitForFundsHonoursContext(t *testing.T) {
	reader := &scriptedBalances{reads: []*big.Int{big.NewInt(0)}, errs: []error{nil}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := WaitForFunds(ctx, reader, common.Address{}, big.NewInt(1), time.Millisecond, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
