package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/roomledger/internal/config"
	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// Backend is a RecordStore that owns a connection.
type Backend interface {
	ledger.RecordStore
	Close() error
}

// NonceStore remembers request nonces for replay protection. UseNonce
// checks and claims in one step and returns true only for the first use.
type NonceStore interface {
	UseNonce(ctx context.Context, key, nonce string, ttl time.Duration) bool
}

// Stores bundles everything the server needs from the storage layer.
type Stores struct {
	Records ledger.RecordStore
	Nonces  NonceStore
	Redis   *RedisStore // nil unless REDIS_URL is set

	closers []func() error
}

// Close closes every opened connection.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// Open connects the record store named by cfg.Store, plus Redis when
// configured. Redis backs nonce tracking whenever it is available;
// otherwise nonces are kept in memory.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	if cfg.RedisURL != "" {
		rs, err := NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.Redis = rs
		s.Nonces = rs
		s.closers = append(s.closers, rs.Close)
	}

	var backend Backend
	switch cfg.Store {
	case config.StoreMemory:
		backend = NewMemoryStore()
	case config.StoreRedis:
		if s.Redis == nil {
			s.Close()
			return nil, fmt.Errorf("store %q requires REDIS_URL", cfg.Store)
		}
		backend = s.Redis
	case config.StorePostgres:
		pg, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		backend = pg
		s.closers = append(s.closers, pg.Close)
	case config.StoreSQLite:
		lite, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		backend = lite
		s.closers = append(s.closers, lite.Close)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	s.Records = backend

	if s.Nonces == nil {
		if mem, ok := backend.(*MemoryStore); ok {
			s.Nonces = mem
		} else {
			s.Nonces = NewMemoryStore()
		}
	}

	return s, nil
}
