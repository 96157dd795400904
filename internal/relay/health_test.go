package relay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"faucetrelay/internal/claims"
	"faucetrelay/internal/ledger"
)

// pingingLedger adds a node liveness check to stubLedger.
type pingingLedger struct {
	*stubLedger
	pingErr   error
	pingCalls int32
}

func (p *pingingLedger) Ping(context.Context) error {
	atomic.AddInt32(&p.pingCalls, 1)
	return p.pingErr
}

// pingingStore is a memory store that reports a remote connection state.
type pingingStore struct {
	*claims.MemoryStore
	pingErr error
}

func (p pingingStore) Ping(context.Context) error {
	return p.pingErr
}

func TestHealthReportsRelayBalance(t *testing.T) {
	l := newStubLedger()
	l.setBalance(l.Address(), ether(t, "1.5"))

	report, err := NewHealthReporter(l, claims.NewMemoryStore(), "0xcontract", 0).Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != StatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.RelayAddress != l.Address() || report.Contract != "0xcontract" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if ledger.FormatEther(report.RelayBalance) != "1.5" {
		t.Fatalf("expected 1.5, got %s", ledger.FormatEther(report.RelayBalance))
	}
	if report.Store != "" {
		t.Fatalf("memory store has nothing to check, got %q", report.Store)
	}
}

func TestHealthDegradedWhenNodeUnreachable(t *testing.T) {
	l := newStubLedger()
	l.balanceFn = func() error { return errors.New("dial tcp: connection refused") }

	report, err := NewHealthReporter(l, nil, "", 0).Health(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if report.Status != StatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.RelayAddress != l.Address() {
		t.Fatalf("relay address should still be reported")
	}
}

func TestHealthPingsNodeBeforeReadingBalance(t *testing.T) {
	l := &pingingLedger{stubLedger: newStubLedger(), pingErr: errors.New("node is syncing")}

	report, err := NewHealthReporter(l, nil, "", 0).Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "node is syncing") {
		t.Fatalf("expected node ping error, got %v", err)
	}
	if report.Status != StatusError || report.RelayBalance != nil {
		t.Fatalf("unexpected report: %+v", report)
	}
	if l.pingCalls != 1 || l.balanceCalls != 0 {
		t.Fatalf("expected 1 ping and no balance read, got %d and %d", l.pingCalls, l.balanceCalls)
	}

	l.pingErr = nil
	if _, err := NewHealthReporter(l, nil, "", 0).Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestHealthDegradedWhenStoreUnreachable(t *testing.T) {
	l := newStubLedger()
	l.setBalance(l.Address(), ether(t, "2"))
	store := pingingStore{MemoryStore: claims.NewMemoryStore(), pingErr: errors.New("connection pool closed")}

	report, err := NewHealthReporter(l, store, "", 0).Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "claim store") {
		t.Fatalf("expected claim store error, got %v", err)
	}
	if report.Status != StatusError || report.Store != StatusError {
		t.Fatalf("unexpected report: %+v", report)
	}
	// The node half of the report is still filled in.
	if ledger.FormatEther(report.RelayBalance) != "2.0" {
		t.Fatalf("expected balance 2.0, got %s", ledger.FormatEther(report.RelayBalance))
	}

	store.pingErr = nil
	report, err = NewHealthReporter(l, store, "", 0).Health(context.Background())
	if err != nil || report.Store != StatusOK {
		t.Fatalf("expected healthy store, got %q err=%v", report.Store, err)
	}
}

func TestHealthPingsFakeClient(t *testing.T) {
	funds := ether(t, "3")
	client := ledger.NewFakeClient(newStubLedger().Address(), funds)
	var _ ledger.HealthChecker = client

	report, err := NewHealthReporter(client, nil, "", 0).Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.RelayBalance.Cmp(funds) != 0 {
		t.Fatalf("expected %s got %s", funds, report.RelayBalance)
	}
}
