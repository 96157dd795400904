// Package claims records when each address last received funds and provides the
// per-address locks that keep concurrent claims for one address from interleaving.
package claims

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Store abstracts claim-history persistence. Records are upserted after a
// successful broadcast and never deleted.
type Store interface {
	LastClaim(ctx context.Context, address common.Address) (time.Time, bool, error)
	RecordClaim(ctx context.Context, address common.Address, at time.Time) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HasClaimed reports whether address has any recorded claim.
func HasClaimed(ctx context.Context, store Store, address common.Address) (bool, error) {
	_, ok, err := store.LastClaim(ctx, address)
	return ok, err
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[common.Address]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[common.Address]time.Time),
	}
}

func (m *MemoryStore) LastClaim(_ context.Context, address common.Address) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.data[address]
	return at, ok, nil
}

func (m *MemoryStore) RecordClaim(_ context.Context, address common.Address, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[address] = at
	return nil
}

// Len returns the number of addresses with a record.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
