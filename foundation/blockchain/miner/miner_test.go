package miner_test

import (
	"testing"

	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network/simulator"
	"github.com/chainforge/node/foundation/blockchain/participant"
	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// testRounds keeps each FindProof batch small enough that tests stay
// responsive but large enough to find an easy-target proof in one call.
const testRounds = 5000

// testConfig returns chain parameters with a trivially easy PoW target.
func testConfig(balances map[storage.Address]uint64) genesis.Config {
	cfg := genesis.Default()
	cfg.PowLeadingZeroes = 2
	cfg.ConfirmedDepth = 0
	cfg.InitialBalances = balances
	return cfg
}

// mustAccount generates a key pair and returns its address plus a builder
// that wires a miner for that key onto the given network.
func mustAccount(t *testing.T) (storage.Address, func(cfg genesis.Config, sim *simulator.Simulator) *miner.Miner) {
	t.Helper()

	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	addr := storage.AddressOf(key.PublicKey)

	build := func(cfg genesis.Config, sim *simulator.Simulator) *miner.Miner {
		client := participant.New(key, cfg, sim, cfg.MakeGenesisBlock(), nil)
		return miner.New(client, testRounds, nil)
	}

	return addr, build
}

// mineUntil drives FindProof until the miner's head reaches length, then
// waits for in-flight gossip to settle.
func mineUntil(t *testing.T, m *miner.Miner, sim *simulator.Simulator, length uint64) {
	t.Helper()

	for i := 0; i < 10000; i++ {
		if m.Chain().LastBlock().ChainLength >= length {
			sim.Wait()
			return
		}
		m.FindProof()
	}

	t.Fatalf("no proof found after %d rounds; head at %d, want %d",
		10000*testRounds, m.Chain().LastBlock().ChainLength, length)
}

func TestMinerExtendsOwnChain(t *testing.T) {
	sim := simulator.New()

	addr, build := mustAccount(t)
	cfg := testConfig(map[storage.Address]uint64{addr: 100})
	m := build(cfg, sim)

	mineUntil(t, m, sim, 1)

	head := m.Chain().LastBlock()
	if head.ChainLength != 1 {
		t.Fatalf("head = %d, want 1", head.ChainLength)
	}
	if head.RewardAddr != m.Address() {
		t.Fatal("mined block should carry this miner's reward address")
	}

	// A fresh search starts immediately on top of the new head.
	if got := m.CurrentBlock().ChainLength; got != 2 {
		t.Fatalf("current block chain length = %d, want 2", got)
	}

	// The reward for block 1 becomes visible in the NEXT block's balances.
	if got := head.Balance(m.Address()); got != 100 {
		t.Fatalf("reward must not be visible in the rewarded block itself, got %d", got)
	}
	mineUntil(t, m, sim, 2)
	if got, want := m.Chain().LastBlock().Balance(m.Address()), uint64(100+cfg.CoinbaseReward); got != want {
		t.Fatalf("balance after reward payout = %d, want %d", got, want)
	}
}

func TestMinedBlockReachesOtherParticipants(t *testing.T) {
	sim := simulator.New()

	addr, build := mustAccount(t)
	cfg := testConfig(map[storage.Address]uint64{addr: 100})
	m := build(cfg, sim)

	observerKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	observer := participant.New(observerKey, cfg, sim, cfg.MakeGenesisBlock(), nil)
	sim.Register(observer)

	mineUntil(t, m, sim, 1)

	if got := observer.Chain().LastBlock().ChainLength; got != 1 {
		t.Fatalf("observer head = %d, want 1", got)
	}
	if observer.Chain().LastBlock().ID() != m.Chain().LastBlock().ID() {
		t.Fatal("observer and miner disagree on the head block")
	}
}

func TestOutOfOrderTransactionPooledThenIncluded(t *testing.T) {
	sim := simulator.New()

	senderKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	sender := storage.AddressOf(senderKey.PublicKey)

	minerAddr, build := mustAccount(t)
	cfg := testConfig(map[storage.Address]uint64{sender: 100, minerAddr: 100})
	m := build(cfg, sim)

	sign := func(nonce uint64) storage.Transaction {
		tx := cfg.MakeTransaction(sender, nonce, senderKey.PublicKey, []storage.Output{{Amount: 10, Address: "Ym9i"}}, 1, nil)
		signed, err := tx.Sign(senderKey)
		if err != nil {
			t.Fatalf("signing: %s", err)
		}
		return signed
	}

	tx0, tx1 := sign(0), sign(1)

	// Nonce 1 arrives first: it must be deferred, not included.
	m.AddToCurrentBlock(tx1)
	if m.CurrentBlock().Contains(tx1) {
		t.Fatal("out-of-order nonce must not enter the current block")
	}

	// Once nonce 0 arrives both become includable.
	m.AddToCurrentBlock(tx0)
	if !m.CurrentBlock().Contains(tx0) || !m.CurrentBlock().Contains(tx1) {
		t.Fatal("expected both transactions in the current block after the gap filled")
	}

	mineUntil(t, m, sim, 1)

	head := m.Chain().LastBlock()
	if !head.Contains(tx0) || !head.Contains(tx1) {
		t.Fatal("expected both transactions in the sealed block")
	}
	if got, want := head.Balance(sender), uint64(100-22); got != want {
		t.Fatalf("sender balance = %d, want %d", got, want)
	}
}

func TestResyncCarriesForwardLosingForkTransactions(t *testing.T) {
	sim := simulator.New()

	senderKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	sender := storage.AddressOf(senderKey.PublicKey)

	minerAddr, build := mustAccount(t)
	otherKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	other := storage.AddressOf(otherKey.PublicKey)

	cfg := testConfig(map[storage.Address]uint64{sender: 100, minerAddr: 100, other: 100})
	m := build(cfg, sim)

	// A transaction lands in this miner's block under construction.
	tx := cfg.MakeTransaction(sender, 0, senderKey.PublicKey, []storage.Output{{Amount: 10, Address: "Ym9i"}}, 1, nil)
	signed, err := tx.Sign(senderKey)
	if err != nil {
		t.Fatalf("signing: %s", err)
	}
	m.AddToCurrentBlock(signed)
	if !m.CurrentBlock().Contains(signed) {
		t.Fatal("expected the transaction in the current block")
	}

	// A competing miner seals an EMPTY block at the same height first. Our
	// miner loses the race and must rebuild on the new head without
	// forgetting the transaction.
	competing := cfg.MakeBlock(other, cfg.MakeGenesisBlock())
	for competing.Proof = 0; !competing.HasValidProof(); competing.Proof++ {
	}

	m.ReceiveBlock(competing)

	current := m.CurrentBlock()
	if current.ChainLength != 2 {
		t.Fatalf("current block should rebuild on the new head, chain length = %d", current.ChainLength)
	}
	if !current.Contains(signed) {
		t.Fatal("transaction from the losing fork was dropped instead of carried forward")
	}
}
