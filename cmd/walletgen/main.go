package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faucetrelay/internal/ledger"
	"faucetrelay/internal/logging"
	"faucetrelay/internal/walletgen"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envPath      string
	rpcURL       string
	minBalance   string
	pollInterval time.Duration
	noWait       bool
	isDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "walletgen",
	Short: "Create or reuse the relay wallet and wait until it is funded",
	Long: `walletgen reads PRIVATE_KEY and ADDRESS from the env file. When they are missing it
derives a new wallet from a fresh BIP-39 mnemonic (` + walletgen.DerivationPath + `) and writes it
back. It then polls the node until the wallet holds more than --min-balance.`,
	SilenceUsage: true,
	RunE:         runWalletgen,
}

func init() {
	rootCmd.Flags().StringVar(&envPath, "env-file", ".env", "env file holding the relay wallet")
	rootCmd.Flags().StringVar(&rpcURL, "rpc-url", "", "node RPC endpoint (defaults to RPC_URL)")
	rootCmd.Flags().StringVar(&minBalance, "min-balance", "0.1", "balance in ether the wallet must exceed")
	rootCmd.Flags().DurationVar(&pollInterval, "interval", 3*time.Second, "balance poll interval")
	rootCmd.Flags().BoolVar(&noWait, "no-wait", false, "exit once the wallet is written")
	rootCmd.Flags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWalletgen(cmd *cobra.Command, _ []string) error {
	level := "info"
	if isDebug {
		level = "debug"
	}
	logging.Init(os.Stderr, level, "text")

	floor, err := ledger.ParseEther(minBalance)
	if err != nil {
		return fmt.Errorf("--min-balance: %w", err)
	}

	env, err := godotenv.Read(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", envPath, err)
	}
	if env == nil {
		env = map[string]string{}
	}
	if rpcURL == "" {
		rpcURL = env["RPC_URL"]
	}
	if rpcURL == "" {
		rpcURL = os.Getenv("RPC_URL")
	}

	wallet, found, err := walletgen.FromEnv(env)
	if err != nil {
		return fmt.Errorf("existing wallet in %s: %w", envPath, err)
	}
	if found {
		slog.Info("found existing wallet", "address", wallet.Address.Hex(), "env_file", envPath)
	} else {
		if rpcURL == "" {
			return errors.New("RPC_URL not set")
		}
		if wallet, err = walletgen.Generate(); err != nil {
			return fmt.Errorf("generate wallet: %w", err)
		}
		if err := walletgen.WriteEnv(envPath, wallet, rpcURL); err != nil {
			return fmt.Errorf("write %s: %w", envPath, err)
		}
		slog.Info("generated new wallet", "address", wallet.Address.Hex(), "env_file", envPath)
	}

	if noWait {
		return nil
	}
	if rpcURL == "" {
		return errors.New("RPC_URL not set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := ledger.NewEthClient(dialCtx, ledger.EthClientConfig{
		RPCURL:        rpcURL,
		PrivateKeyHex: wallet.PrivateKeyHex(),
	})
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	slog.Info("waiting for funds", "address", wallet.Address.Hex(), "min_balance", ledger.FormatEther(floor))
	bal, err := walletgen.WaitForFunds(ctx, client, wallet.Address, floor, pollInterval, func(b *big.Int) {
		slog.Debug("current balance", "balance", ledger.FormatEther(b))
	})
	if err != nil {
		return err
	}
	slog.Info("funds received", "address", wallet.Address.Hex(), "balance", ledger.FormatEther(bal))
	return nil
}
