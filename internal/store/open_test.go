package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/eldtechnologies/roomledger/internal/config"
)

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), &config.Config{Store: config.StoreMemory})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, ok := s.Records.(*MemoryStore); !ok {
		t.Fatalf("expected memory records, got %T", s.Records)
	}
	if n, _ := s.Nonces.(*MemoryStore); n != s.Records.(*MemoryStore) {
		t.Fatal("memory store should also track nonces")
	}
	if s.Redis != nil {
		t.Fatal("redis opened without REDIS_URL")
	}
}

func TestOpenSQLiteWithRedisNonces(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), &config.Config{
		Store:      config.StoreSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
		RedisURL:   "redis://" + mr.Addr(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, ok := s.Records.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite records, got %T", s.Records)
	}
	if n, _ := s.Nonces.(*RedisStore); n != s.Redis {
		t.Fatal("nonces should use redis when configured")
	}
}

func TestOpenRedisRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{Store: config.StoreRedis}); err == nil {
		t.Fatal("expected error without REDIS_URL")
	}
}

func TestOpenUnknownStore(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{Store: "tape"}); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
