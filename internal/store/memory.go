package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// MemoryStore is an in-process RecordStore and NonceStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[ledger.Address][]byte
	nonces  map[string]time.Time
	now     func() time.Time

	nonceCalls int
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[ledger.Address][]byte),
		nonces:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Get returns a copy of the record at addr.
func (s *MemoryStore) Get(ctx context.Context, addr ledger.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[addr]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

// Apply validates every op before writing any of them.
func (s *MemoryStore) Apply(ctx context.Context, ops ...ledger.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writes := make(map[ledger.Address][]byte, len(ops))
	for _, op := range ops {
		_, staged := writes[op.Address]
		existing, exists := s.records[op.Address]
		switch op.Kind {
		case ledger.OpCreate:
			if exists || staged {
				return addressInUse(op.Address)
			}
			if len(op.Data) > op.Space {
				return exceedsSpace(op.Address, len(op.Data), op.Space)
			}
			writes[op.Address] = ledger.Pad(op.Data, op.Space)
		case ledger.OpUpdate:
			size := len(existing)
			if staged {
				size = len(writes[op.Address])
			} else if !exists {
				return notFound(op.Address)
			}
			if len(op.Data) > size {
				return exceedsSpace(op.Address, len(op.Data), size)
			}
			writes[op.Address] = ledger.Pad(op.Data, size)
		}
	}

	for addr, data := range writes {
		s.records[addr] = data
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// noncePruneEvery is how many UseNonce calls pass between sweeps of
// expired nonces.
const noncePruneEvery = 256

// UseNonce marks nonce for key as used for ttl. It reports false if the
// nonce was already used and has not expired.
func (s *MemoryStore) UseNonce(ctx context.Context, key, nonce string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nonceCalls++
	if s.nonceCalls%noncePruneEvery == 0 {
		for k, exp := range s.nonces {
			if !now.Before(exp) {
				delete(s.nonces, k)
			}
		}
	}

	k := nonceKey(key, nonce)
	if exp, ok := s.nonces[k]; ok && now.Before(exp) {
		return false
	}
	s.nonces[k] = now.Add(ttl)
	return true
}

// NonceCount returns the number of tracked nonces, expired ones included.
func (s *MemoryStore) NonceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}
