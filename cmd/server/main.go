package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faucetrelay/internal/claims"
	"faucetrelay/internal/config"
	"faucetrelay/internal/ledger"
	"faucetrelay/internal/logging"
	"faucetrelay/internal/relay"
	"faucetrelay/internal/server"

	"github.com/ethereum/go-ethereum/crypto"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(os.Stderr, "info", "text")
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	policy, err := cfg.EligibilityPolicy()
	if err != nil {
		return err
	}

	ctx := context.Background()

	client, closeLedger, err := newLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer closeLedger()

	store, locker, closeStore, err := newClaimStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("claim store: %w", err)
	}
	defer closeStore()

	dispatcher, err := relay.NewDispatcher(relay.Config{
		Policy:     policy,
		RPCTimeout: cfg.Chain.RPCTimeout,
		Logger:     logger,
	}, client, store, locker)
	if err != nil {
		return err
	}
	health := relay.NewHealthReporter(client, store, cfg.ContractAddress(), 0)

	logger.Info("relay configured",
		"relayer", client.Address().Hex(),
		"key_length", len(cfg.Chain.PrivateKey),
		"mode", string(policy.Mode),
		"amount", ledger.FormatEther(policy.Amount),
		"cooldown", policy.Cooldown,
		"store", cfg.Store.Backend,
		"dry_run", cfg.Chain.DryRun,
	)

	apiServer := server.NewServer(cfg, dispatcher, health, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// newLedger returns the node client and a func releasing its connection.
func newLedger(ctx context.Context, cfg *config.AppConfig) (ledger.Client, func(), error) {
	if cfg.Chain.DryRun {
		key, err := ledger.ParsePrivateKey(cfg.Chain.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		funds, _ := ledger.ParseEther("1000")
		slog.Warn("dry run: transfers are simulated in memory")
		return ledger.NewFakeClient(crypto.PubkeyToAddress(key.PublicKey), funds), func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
	defer cancel()
	client, err := ledger.NewEthClient(dialCtx, ledger.EthClientConfig{
		RPCURL:        cfg.Chain.RPCURL,
		PrivateKeyHex: cfg.Chain.PrivateKey,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to node", "rpc_url", cfg.Chain.RPCURL, "chain_id", client.ChainID().String())
	return client, client.Close, nil
}

// newClaimStore opens the configured backend. Redis also provides the claim lock so
// that several relay replicas can share one wallet.
func newClaimStore(ctx context.Context, cfg *config.AppConfig) (claims.Store, claims.Locker, func(), error) {
	switch cfg.Store.Backend {
	case "leveldb":
		store, err := claims.NewLevelDBStore(cfg.Store.LevelDBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, claims.NewKeyedMutex(), closeQuietly(store), nil
	case "postgres":
		store, err := claims.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, claims.NewKeyedMutex(), store.Close, nil
	case "redis":
		rdb, err := claims.NewRedisClient(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return claims.NewRedisStore(rdb), claims.NewRedisLocker(rdb, cfg.Store.LockTTL), closeQuietly(rdb), nil
	default:
		return claims.NewMemoryStore(), claims.NewKeyedMutex(), func() {}, nil
	}
}

func closeQuietly(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("close claim store", "error", err)
		}
	}
}
