package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"faucetrelay/internal/claims"
	"faucetrelay/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type HealthReport struct {
	Status       string
	Contract     string
	RelayAddress common.Address
	RelayBalance *big.Int
	// Store is empty when the claim store has nothing remote to check.
	Store string
}

// HealthReporter checks the node, the relay wallet balance and the claim store.
// It never mutates state.
type HealthReporter struct {
	ledger   ledger.Client
	store    claims.Store
	contract string
	timeout  time.Duration
}

// NewHealthReporter reports on client's wallet. contract is echoed back as is.
// store may be nil.
func NewHealthReporter(client ledger.Client, store claims.Store, contract string, timeout time.Duration) *HealthReporter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthReporter{ledger: client, store: store, contract: contract, timeout: timeout}
}

// Health always returns a populated report; err is set when the node or the
// claim store could not be reached.
func (h *HealthReporter) Health(ctx context.Context) (HealthReport, error) {
	report := HealthReport{
		Status:       StatusOK,
		Contract:     h.contract,
		RelayAddress: h.ledger.Address(),
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs []error
	if err := h.checkNode(ctx, &report); err != nil {
		errs = append(errs, fmt.Errorf("node: %w", err))
	}
	if pinger, ok := h.store.(claims.Pinger); ok {
		report.Store = StatusOK
		if err := pinger.Ping(ctx); err != nil {
			report.Store = StatusError
			errs = append(errs, fmt.Errorf("claim store: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		report.Status = StatusError
		return report, err
	}
	return report, nil
}

func (h *HealthReporter) checkNode(ctx context.Context, report *HealthReport) error {
	if checker, ok := h.ledger.(ledger.HealthChecker); ok {
		if err := checker.Ping(ctx); err != nil {
			return err
		}
	}
	bal, err := h.ledger.Balance(ctx, report.RelayAddress)
	if err != nil {
		return err
	}
	report.RelayBalance = bal
	return nil
}
