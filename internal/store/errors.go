package store

import (
	"fmt"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

func addressInUse(addr ledger.Address) error {
	return fmt.Errorf("%w: %s", ledger.ErrAddressInUse, addr)
}

func notFound(addr ledger.Address) error {
	return fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
}

func exceedsSpace(addr ledger.Address, size, space int) error {
	return fmt.Errorf("%w: %s needs %d bytes, has %d", ledger.ErrExceedsSpace, addr, size, space)
}

// nonceKey returns the key for nonce tracking.
func nonceKey(key, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", key, nonce)
}

// recordKey returns the Redis key for a record address.
func recordKey(addr ledger.Address) string {
	return fmt.Sprintf("record:%s", addr)
}
