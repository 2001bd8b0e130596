package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// testRecordStore exercises the RecordStore contract against any backend.
// Backends are expected to be empty.
func testRecordStore(t *testing.T, s ledger.RecordStore) {
	t.Helper()
	ctx := context.Background()

	a := ledger.Address("aaaa")
	b := ledger.Address("bbbb")

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.Get(ctx, a); !errors.Is(err, ledger.ErrRecordNotFound) {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("create pads to space", func(t *testing.T) {
		if err := s.Apply(ctx, ledger.Create(a, 8, []byte{1, 2, 3})); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte{1, 2, 3, 0, 0, 0, 0, 0}) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("create at occupied address", func(t *testing.T) {
		err := s.Apply(ctx, ledger.Create(a, 8, []byte{9}))
		if !errors.Is(err, ledger.ErrAddressInUse) {
			t.Fatalf("expected ErrAddressInUse, got %v", err)
		}
		got, _ := s.Get(ctx, a)
		if got[0] != 1 {
			t.Fatal("occupied record was overwritten")
		}
	})

	t.Run("create over space", func(t *testing.T) {
		err := s.Apply(ctx, ledger.Create(b, 4, []byte{1, 2, 3, 4, 5}))
		if !errors.Is(err, ledger.ErrExceedsSpace) {
			t.Fatalf("expected ErrExceedsSpace, got %v", err)
		}
		if _, err := s.Get(ctx, b); !errors.Is(err, ledger.ErrRecordNotFound) {
			t.Fatalf("oversized create left a record: %v", err)
		}
	})

	t.Run("update keeps size", func(t *testing.T) {
		if err := s.Apply(ctx, ledger.Update(a, []byte{7})); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, a)
		if !bytes.Equal(got, []byte{7, 0, 0, 0, 0, 0, 0, 0}) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		if err := s.Apply(ctx, ledger.Update(b, []byte{1})); !errors.Is(err, ledger.ErrRecordNotFound) {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("failed batch applies nothing", func(t *testing.T) {
		err := s.Apply(ctx,
			ledger.Create(b, 8, []byte{5}),
			ledger.Update(a, []byte{6}),
			ledger.Create(a, 8, []byte{6}),
		)
		if !errors.Is(err, ledger.ErrAddressInUse) {
			t.Fatalf("expected ErrAddressInUse, got %v", err)
		}
		if _, err := s.Get(ctx, b); !errors.Is(err, ledger.ErrRecordNotFound) {
			t.Fatalf("partial batch created b: %v", err)
		}
		got, _ := s.Get(ctx, a)
		if got[0] != 7 {
			t.Fatal("partial batch updated a")
		}
	})

	t.Run("batch applies together", func(t *testing.T) {
		err := s.Apply(ctx,
			ledger.Create(b, 8, []byte{5}),
			ledger.Update(a, []byte{8}),
		)
		if err != nil {
			t.Fatal(err)
		}
		gotA, _ := s.Get(ctx, a)
		gotB, _ := s.Get(ctx, b)
		if gotA[0] != 8 || gotB[0] != 5 {
			t.Fatalf("got a=%v b=%v", gotA, gotB)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

// testLedgerOnStore runs a short send sequence through the ledger so the
// backend sees the exact batches the sequencer issues.
func testLedgerOnStore(t *testing.T, s ledger.RecordStore) {
	t.Helper()
	ctx := context.Background()

	l := ledger.New(s)
	id := verifiedIdentity(t)

	if _, err := l.Initialize(ctx, "backend_room", id); err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		m, err := l.Send(ctx, "backend_room", id, id.Key(), []byte("hello"))
		if err != nil {
			t.Fatal(err)
		}
		if m.SequenceNumber != i {
			t.Fatalf("expected sequence %d, got %d", i, m.SequenceNumber)
		}
	}
	if _, err := l.Send(ctx, "backend_room", id, id.Key(), make([]byte, ledger.MaxContentSize+1)); !errors.Is(err, ledger.ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
	room, err := l.Room(ctx, "backend_room")
	if err != nil {
		t.Fatal(err)
	}
	if room.MessageCount != 3 {
		t.Fatalf("expected count 3, got %d", room.MessageCount)
	}

	t.Run("concurrent senders", func(t *testing.T) {
		testConcurrentSends(t, l, id)
	})
}

// testConcurrentSends races several senders through SendWithRetry. A
// create at an occupied address must fail atomically, so the assigned
// sequence numbers come out gapless and match the final count.
func testConcurrentSends(t *testing.T, l *ledger.Ledger, id ledger.Identity) {
	t.Helper()
	ctx := context.Background()
	const room = ledger.RoomID("contended_room")
	const workers, perWorker = 8, 10

	if _, err := l.Initialize(ctx, room, id); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seqs []uint64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m, _, err := l.SendWithRetry(ctx, room, id, id.Key(), []byte("x"), workers*perWorker)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seqs = append(seqs, m.SequenceNumber)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if t.Failed() {
		return
	}

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		if seq != uint64(i) {
			t.Fatalf("sequence numbers not gapless: position %d holds %d", i, seq)
		}
	}
	reg, err := l.Room(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	if reg.MessageCount != workers*perWorker || len(seqs) != workers*perWorker {
		t.Fatalf("expected %d sends, got %d (count %d)", workers*perWorker, len(seqs), reg.MessageCount)
	}
}

type acceptAll struct{}

func (acceptAll) Verify(ledger.PublicKey, []byte, []byte) error { return nil }

func verifiedIdentity(t *testing.T) ledger.Identity {
	t.Helper()
	var key ledger.PublicKey
	key[0] = 42
	id, err := ledger.Authenticate(acceptAll{}, ledger.SignedAction{Key: key})
	if err != nil {
		t.Fatal(err)
	}
	return id
}
