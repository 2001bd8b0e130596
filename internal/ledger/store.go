package ledger

import "context"

// RecordStore is a key-addressed store of fixed-size records.
//
// Apply must be atomic: either every op takes effect or none does. A
// Create at an occupied address fails with ErrAddressInUse, which is the
// only mutual exclusion the sequencer relies on.
type RecordStore interface {
	Get(ctx context.Context, addr Address) ([]byte, error)
	Apply(ctx context.Context, ops ...Op) error
	Ping(ctx context.Context) error
}

// OpKind distinguishes record creation from in-place updates.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
)

func (k OpKind) String() string {
	if k == OpCreate {
		return "create"
	}
	return "update"
}

// Op is one mutation inside an Apply batch.
//
// Create allocates Space bytes at Address and writes Data zero-padded to
// that size. Update overwrites an existing record in place, padded to its
// original size.
type Op struct {
	Kind    OpKind
	Address Address
	Space   int
	Data    []byte
}

// Create returns a create op.
func Create(addr Address, space int, data []byte) Op {
	return Op{Kind: OpCreate, Address: addr, Space: space, Data: data}
}

// Update returns an update op.
func Update(addr Address, data []byte) Op {
	return Op{Kind: OpUpdate, Address: addr, Data: data}
}

// Pad returns data zero-padded to size. Callers check len(data) <= size.
func Pad(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}
