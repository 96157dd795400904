// Package relay runs a faucet claim end to end: validate the address, read its
// balance and claim history, apply the eligibility policy, send the payout from
// the relay wallet and record the claim.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"faucetrelay/internal/claims"
	"faucetrelay/internal/eligibility"
	"faucetrelay/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

const defaultRPCTimeout = 15 * time.Second

type Config struct {
	Policy eligibility.Policy
	// RPCTimeout bounds each call into the ledger client.
	RPCTimeout time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Dispatcher serialises claims per address through a claims.Locker. Serialising
// broadcasts across addresses is the ledger client's job.
type Dispatcher struct {
	ledger     ledger.Client
	store      claims.Store
	locker     claims.Locker
	policy     eligibility.Policy
	rpcTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Result describes a transfer the node accepted for broadcast.
type Result struct {
	Address   common.Address
	TxHash    string
	Amount    *big.Int
	ClaimedAt time.Time
}

func NewDispatcher(cfg Config, client ledger.Client, store claims.Store, locker claims.Locker) (*Dispatcher, error) {
	if client == nil || store == nil || locker == nil {
		return nil, errors.New("ledger client, claim store and locker are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	d := &Dispatcher{
		ledger:     client,
		store:      store,
		locker:     locker,
		policy:     cfg.Policy,
		rpcTimeout: cfg.RPCTimeout,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if d.rpcTimeout <= 0 {
		d.rpcTimeout = defaultRPCTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d, nil
}

// Claim pays rawAddress if the policy allows it. Every failure is returned as *Error.
// The claim is recorded only after the node accepted the transfer.
func (d *Dispatcher) Claim(ctx context.Context, rawAddress string) (Result, error) {
	addr, err := ledger.ParseAddress(rawAddress)
	if err != nil {
		return Result{}, invalidInput(err)
	}
	log := d.logger.With("address", addr.Hex(), "mode", string(d.policy.Mode))

	recordCtx := context.WithoutCancel(ctx)
	ctx, unlock, err := d.locker.Lock(ctx, addr.Hex())
	if err != nil {
		return Result{}, unavailable("acquire claim lock", err)
	}
	defer unlock()

	var balance *big.Int
	if d.policy.NeedsBalance() {
		rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
		balance, err = d.ledger.Balance(rpcCtx, addr)
		cancel()
		if err != nil {
			log.Warn("balance lookup failed", "error", err)
			return Result{}, unavailable("read balance", err)
		}
	}

	lastClaim, claimed, err := d.store.LastClaim(ctx, addr)
	if err != nil {
		log.Warn("claim history lookup failed", "error", err)
		return Result{}, unavailable("read claim history", err)
	}

	now := d.now()
	decision := d.policy.Evaluate(eligibility.Input{
		Address:   addr,
		Balance:   balance,
		LastClaim: lastClaim,
		Claimed:   claimed,
		Now:       now,
	})
	if !decision.Allowed() {
		log.Info("claim denied", "reason", decision.Verdict.String())
		return Result{}, denied(decision)
	}

	// Another instance may own the address once the lock is gone.
	if err := context.Cause(ctx); err != nil {
		log.Warn("claim lock lost before send", "error", err)
		return Result{}, unavailable("hold claim lock", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	receipt, err := d.ledger.Send(rpcCtx, ledger.Transfer{To: addr, Value: decision.Amount})
	cancel()
	if err != nil {
		log.Error("transfer failed", "amount", ledger.FormatEther(decision.Amount), "error", err)
		return Result{}, dispatchFailed(err)
	}

	// The transfer is out; a failed write must not turn into an error the caller would retry.
	if err := d.store.RecordClaim(recordCtx, addr, now); err != nil {
		log.Error("transfer sent but claim not recorded", "tx", receipt.TxHash, "error", err)
	}

	log.Info("claim sent", "tx", receipt.TxHash, "nonce", receipt.Nonce, "amount", ledger.FormatEther(decision.Amount))
	return Result{
		Address:   addr,
		TxHash:    receipt.TxHash,
		Amount:    decision.Amount,
		ClaimedAt: now,
	}, nil
}

func denied(decision eligibility.Decision) *Error {
	e := &Error{Kind: KindPolicyDenied}
	switch decision.Verdict {
	case eligibility.DeniedSufficientBalance:
		e.Reason = ErrSufficientBalance
	case eligibility.DeniedCooldown:
		e.Reason = ErrCooldown
		e.RetryAfter = decision.RetryAfter
	case eligibility.DeniedAlreadyClaimed:
		e.Reason = ErrAlreadyClaimed
	case eligibility.DeniedInvalidAddress:
		e.Kind = KindInvalidInput
		e.Reason = ErrInvalidAddress
	default:
		e.Reason = fmt.Errorf("claim denied: %s", decision.Verdict)
	}
	return e
}
