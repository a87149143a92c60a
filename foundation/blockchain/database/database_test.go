package database_test

import (
	"testing"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// buildChain mines n trivial (easy-target) blocks on top of genesis and
// returns them in order, genesis excluded.
func buildChain(t *testing.T, genesis database.Block, miner testKey, n int) []database.Block {
	t.Helper()

	target := easyTarget()
	blocks := make([]database.Block, 0, n)
	parent := genesis
	for i := 0; i < n; i++ {
		b := database.New(miner.addr, parent, target, 25)
		for b.Proof = 0; !b.HasValidProof(); b.Proof++ {
		}
		blocks = append(blocks, b)
		parent = b
	}

	return blocks
}

func TestReceiveBlockLongestChainWins(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})
	db := database.NewDatabase(genesis, 6)

	chain := buildChain(t, genesis, miner, 2)
	for _, b := range chain {
		res := db.ReceiveBlock(b)
		if !res.Accepted || !res.HeadAdvanced {
			t.Fatalf("expected block %d to be accepted and advance the head", b.ChainLength)
		}
	}

	if db.LastBlock().ChainLength != 2 {
		t.Fatalf("head chain length = %d, want 2", db.LastBlock().ChainLength)
	}
}

func TestReceiveBlockStrictTieBreak(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})
	db := database.NewDatabase(genesis, 6)

	a := buildChain(t, genesis, miner, 1)[0]
	res := db.ReceiveBlock(a)
	if !res.HeadAdvanced {
		t.Fatal("expected first block at length 1 to become head")
	}

	// A distinct competing block at the SAME chain length must not replace
	// the head: tie-break is strict, not >=.
	other := mustKey(t)
	b := database.New(other.addr, genesis, easyTarget(), 25)
	for b.Proof = 0; !b.HasValidProof(); b.Proof++ {
	}

	res = db.ReceiveBlock(b)
	if res.HeadAdvanced {
		t.Fatal("equal-length competing block must not replace the head")
	}
	if db.LastBlock().ID() != a.ID() {
		t.Fatal("head should remain the first-seen block at this length")
	}
}

func TestReceiveBlockBuffersOnMissingParent(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})
	db := database.NewDatabase(genesis, 6)

	chain := buildChain(t, genesis, miner, 3)

	// Deliver child before parent: chain[1] references chain[0] as parent.
	res := db.ReceiveBlock(chain[1])
	if res.Accepted {
		t.Fatal("expected block with unknown parent to be buffered, not accepted")
	}
	if res.MissingParent != chain[0].ID() {
		t.Fatalf("missing parent = %s, want %s", res.MissingParent, chain[0].ID())
	}
	if db.LastBlock().ChainLength != 0 {
		t.Fatal("head must not advance while the parent is missing")
	}

	// Now deliver the parent: the buffered child should be released and
	// the head should jump straight to it.
	res = db.ReceiveBlock(chain[0])
	if !res.Accepted || !res.HeadAdvanced {
		t.Fatal("expected parent to be accepted and advance the head")
	}
	if db.LastBlock().ChainLength != 2 {
		t.Fatalf("head chain length = %d, want 2 (parent + released child)", db.LastBlock().ChainLength)
	}
}

func TestReceiveBlockReverseTopologicalOrderConverges(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})

	forward := database.NewDatabase(genesis, 6)
	backward := database.NewDatabase(genesis, 6)

	chain := buildChain(t, genesis, miner, 5)

	for _, b := range chain {
		forward.ReceiveBlock(b)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		backward.ReceiveBlock(chain[i])
	}

	if forward.LastBlock().ID() != backward.LastBlock().ID() {
		t.Fatal("delivery order should not affect the converged head")
	}
}

func TestReceiveBlockIdempotent(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})
	db := database.NewDatabase(genesis, 6)

	b := buildChain(t, genesis, miner, 1)[0]
	db.ReceiveBlock(b)
	before := db.Len()

	res := db.ReceiveBlock(b)
	if res.Accepted {
		t.Fatal("expected re-delivering a known block to be a no-op")
	}
	if db.Len() != before {
		t.Fatal("re-delivering a known block must not grow the store")
	}
}

func TestProvideMissingBlock(t *testing.T) {
	miner := mustKey(t)
	genesis := database.NewGenesis(map[storage.Address]uint64{})
	db := database.NewDatabase(genesis, 6)

	b := buildChain(t, genesis, miner, 1)[0]
	db.ReceiveBlock(b)

	got, ok := db.ProvideMissingBlock(b.ID())
	if !ok || got.ID() != b.ID() {
		t.Fatal("expected ProvideMissingBlock to return the known block")
	}

	if _, ok := db.ProvideMissingBlock("does-not-exist"); ok {
		t.Fatal("expected lookup of an unknown block to fail")
	}
}
