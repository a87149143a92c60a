package mempool_test

import (
	"testing"

	"github.com/chainforge/node/foundation/blockchain/mempool"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

func tx(from storage.Address, nonce, fee uint64) storage.Transaction {
	return storage.Transaction{From: from, Nonce: nonce, Fee: fee}
}

func TestUpsertAndDelete(t *testing.T) {
	mp, err := mempool.New()
	if err != nil {
		t.Fatal(err)
	}

	a := tx("alice", 3, 1)
	mp.Upsert(a)
	if mp.Count() != 1 {
		t.Fatalf("count = %d, want 1", mp.Count())
	}

	mp.Delete(a)
	if mp.Count() != 0 {
		t.Fatalf("count after delete = %d, want 0", mp.Count())
	}
}

func TestReadyForReturnsContiguousRun(t *testing.T) {
	mp, err := mempool.New()
	if err != nil {
		t.Fatal(err)
	}

	mp.Upsert(tx("alice", 4, 1))
	mp.Upsert(tx("alice", 2, 1)) // gap: nonce 3 still missing
	mp.Upsert(tx("alice", 3, 1))

	ready := mp.ReadyFor("alice", 2)
	if len(ready) != 3 {
		t.Fatalf("expected 3 contiguous transactions starting at nonce 2, got %d", len(ready))
	}
	for i, want := range []uint64{2, 3, 4} {
		if ready[i].Nonce != want {
			t.Fatalf("ready[%d].Nonce = %d, want %d", i, ready[i].Nonce, want)
		}
	}
}

func TestReadyForStopsAtGap(t *testing.T) {
	mp, err := mempool.New()
	if err != nil {
		t.Fatal(err)
	}

	mp.Upsert(tx("alice", 5, 1))

	if ready := mp.ReadyFor("alice", 3); len(ready) != 0 {
		t.Fatalf("expected no ready transactions across a gap, got %d", len(ready))
	}
}

func TestPickBestRespectsNonceOrderPerSender(t *testing.T) {
	mp, err := mempool.New()
	if err != nil {
		t.Fatal(err)
	}

	mp.Upsert(tx("alice", 2, 10))
	mp.Upsert(tx("alice", 1, 1))
	mp.Upsert(tx("bob", 1, 5))

	picked := mp.PickBest(-1)
	if len(picked) != 3 {
		t.Fatalf("expected all 3 transactions, got %d", len(picked))
	}

	seen := map[storage.Address]uint64{}
	for _, p := range picked {
		if last, ok := seen[p.From]; ok && p.Nonce < last {
			t.Fatalf("nonce order violated for %s: %d after %d", p.From, p.Nonce, last)
		}
		seen[p.From] = p.Nonce
	}
}
