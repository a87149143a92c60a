package miner_test

// End-to-end scenarios exercising the full consensus loop: clients,
// miners, and the in-process network wired together the way the node
// service wires them.

import (
	"encoding/json"
	"testing"

	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/network/simulator"
	"github.com/chainforge/node/foundation/blockchain/participant"
	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

func TestScenarioSingleTransferConverges(t *testing.T) {
	sim := simulator.New()

	aliceKey, _ := signature.GenerateKey()
	bobKey, _ := signature.GenerateKey()
	minnieKey, _ := signature.GenerateKey()

	alice := storage.AddressOf(aliceKey.PublicKey)
	bob := storage.AddressOf(bobKey.PublicKey)
	minnie := storage.AddressOf(minnieKey.PublicKey)

	cfg := genesis.Default()
	cfg.PowLeadingZeroes = 2
	cfg.ConfirmedDepth = 1
	cfg.InitialBalances = map[storage.Address]uint64{alice: 233, bob: 99, minnie: 400}

	aliceClient := participant.New(aliceKey, cfg, sim, cfg.MakeGenesisBlock(), nil)
	sim.Register(aliceClient)

	m := miner.New(participant.New(minnieKey, cfg, sim, cfg.MakeGenesisBlock(), nil), testRounds, nil)

	// Alice transfers 40 to Bob with fee 1.
	if _, err := aliceClient.PostTransaction([]storage.Output{{Amount: 40, Address: bob}}, 1); err != nil {
		t.Fatalf("posting transfer: %s", err)
	}
	sim.Wait()

	if !m.CurrentBlock().ContainsID(mustOnlyPending(t, aliceClient)) {
		t.Fatal("miner did not pick up the broadcast transaction")
	}

	// Mine the including block plus enough on top that the reward payout
	// (one block late) lands inside the confirmation horizon.
	mineUntil(t, m, sim, 3)

	// Head 3, depth 1: confirmed = block 2, whose balances carry block 1's
	// transfer and block 1's reward payout.
	if got := aliceClient.ConfirmedBalance(); got != 233-41 {
		t.Fatalf("alice confirmed = %d, want %d", got, 233-41)
	}
	if got := aliceClient.Chain().LastConfirmedBlock().Balance(bob); got != 99+40 {
		t.Fatalf("bob confirmed = %d, want %d", got, 99+40)
	}
	if got, want := m.Chain().LastConfirmedBlock().Balance(minnie), uint64(400+cfg.CoinbaseReward+1); got != want {
		t.Fatalf("minnie confirmed = %d, want %d (coinbase + fee for block 1)", got, want)
	}

	// Alice's pending set drains once the transfer is confirmed.
	if len(aliceClient.PendingOutgoing()) != 0 {
		t.Fatal("confirmed transfer should leave alice's pending set")
	}
}

func mustOnlyPending(t *testing.T, c *participant.Client) string {
	t.Helper()

	pending := c.PendingOutgoing()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending transaction, got %d", len(pending))
	}

	return pending[0].ID()
}

func TestScenarioReplayRejection(t *testing.T) {
	sim := simulator.New()

	aliceKey, _ := signature.GenerateKey()
	bobKey, _ := signature.GenerateKey()
	minnieKey, _ := signature.GenerateKey()

	alice := storage.AddressOf(aliceKey.PublicKey)
	bob := storage.AddressOf(bobKey.PublicKey)
	minnie := storage.AddressOf(minnieKey.PublicKey)

	cfg := genesis.Default()
	cfg.PowLeadingZeroes = 2
	cfg.ConfirmedDepth = 0
	cfg.InitialBalances = map[storage.Address]uint64{alice: 233, bob: 99, minnie: 400}

	aliceClient := participant.New(aliceKey, cfg, sim, cfg.MakeGenesisBlock(), nil)
	sim.Register(aliceClient)

	m := miner.New(participant.New(minnieKey, cfg, sim, cfg.MakeGenesisBlock(), nil), testRounds, nil)

	tx, err := aliceClient.PostTransaction([]storage.Output{{Amount: 40, Address: bob}}, 1)
	if err != nil {
		t.Fatalf("posting transfer: %s", err)
	}
	sim.Wait()
	mineUntil(t, m, sim, 1)

	if got := aliceClient.ConfirmedBalance(); got != 192 {
		t.Fatalf("alice confirmed after first inclusion = %d, want 192", got)
	}

	// Rebroadcasting the identical signed transaction must not debit
	// alice again: its nonce is now behind her account's next nonce.
	raw, _ := json.Marshal(tx)
	sim.Broadcast(alice, network.PostTransaction, json.RawMessage(raw))
	sim.Wait()
	mineUntil(t, m, sim, 2)

	if got := aliceClient.ConfirmedBalance(); got != 192 {
		t.Fatalf("alice confirmed after replay attempt = %d, want unchanged 192", got)
	}
	if got := aliceClient.Chain().LastConfirmedBlock().Balance(bob); got != 139 {
		t.Fatalf("bob confirmed after replay attempt = %d, want unchanged 139", got)
	}
}

func TestScenarioLateMinerCatchUp(t *testing.T) {
	sim := simulator.New()

	minnieKey, _ := signature.GenerateKey()
	donaldKey, _ := signature.GenerateKey()
	minnie := storage.AddressOf(minnieKey.PublicKey)

	cfg := genesis.Default()
	cfg.PowLeadingZeroes = 2
	cfg.ConfirmedDepth = 2
	cfg.InitialBalances = map[storage.Address]uint64{minnie: 400}

	m := miner.New(participant.New(minnieKey, cfg, sim, cfg.MakeGenesisBlock(), nil), testRounds, nil)

	// The chain grows to length 5 before donald exists.
	mineUntil(t, m, sim, 5)

	// Donald joins late with only the genesis block.
	donald := miner.New(participant.New(donaldKey, cfg, sim, cfg.MakeGenesisBlock(), nil), testRounds, nil)
	if got := donald.Chain().LastBlock().ChainLength; got != 0 {
		t.Fatalf("late joiner should start at genesis, head = %d", got)
	}

	// The next announced proof names a parent donald has never seen. His
	// MissingBlock requests walk the ancestry back to genesis, and the
	// buffered blocks then replay forward.
	head := m.Chain().LastBlock()
	raw, err := head.Serialize()
	if err != nil {
		t.Fatalf("serializing head: %s", err)
	}
	sim.SendTo(minnie, donald.Address(), network.ProofFound, json.RawMessage(raw))
	sim.Wait()

	if got := donald.Chain().LastBlock().ChainLength; got != head.ChainLength {
		t.Fatalf("donald head = %d, want %d", got, head.ChainLength)
	}
	if donald.Chain().LastBlock().ID() != head.ID() {
		t.Fatal("donald converged on a different head than minnie")
	}

	// Balances agree across the two replicas.
	if got, want := donald.Chain().LastBlock().Balance(minnie), m.Chain().LastBlock().Balance(minnie); got != want {
		t.Fatalf("donald sees minnie at %d, minnie sees %d", got, want)
	}
}

func TestScenarioCompetingChainsStrictTieBreak(t *testing.T) {
	sim := simulator.New()

	aKey, _ := signature.GenerateKey()
	bKey, _ := signature.GenerateKey()
	obs1Key, _ := signature.GenerateKey()
	obs2Key, _ := signature.GenerateKey()

	a := storage.AddressOf(aKey.PublicKey)
	b := storage.AddressOf(bKey.PublicKey)

	cfg := genesis.Default()
	cfg.PowLeadingZeroes = 2
	cfg.ConfirmedDepth = 0
	cfg.InitialBalances = map[storage.Address]uint64{a: 100, b: 100}

	// Two observers receive the same two equal-length blocks in opposite
	// orders. Delivery order decides their heads until a chain extends.
	obs1 := participant.New(obs1Key, cfg, sim, cfg.MakeGenesisBlock(), nil)
	obs2 := participant.New(obs2Key, cfg, sim, cfg.MakeGenesisBlock(), nil)

	genesisBlock := cfg.MakeGenesisBlock()

	blockA := cfg.MakeBlock(a, genesisBlock)
	for blockA.Proof = 0; !blockA.HasValidProof(); blockA.Proof++ {
	}
	blockB := cfg.MakeBlock(b, genesisBlock)
	for blockB.Proof = 0; !blockB.HasValidProof(); blockB.Proof++ {
	}

	obs1.ReceiveBlock(blockA)
	obs1.ReceiveBlock(blockB)
	obs2.ReceiveBlock(blockB)
	obs2.ReceiveBlock(blockA)

	if obs1.Chain().LastBlock().ID() != blockA.ID() {
		t.Fatal("obs1 should keep the first-seen block at equal length")
	}
	if obs2.Chain().LastBlock().ID() != blockB.ID() {
		t.Fatal("obs2 should keep the first-seen block at equal length")
	}

	// One chain extends: both observers converge on it.
	child := cfg.MakeBlock(a, blockA)
	for child.Proof = 0; !child.HasValidProof(); child.Proof++ {
	}

	obs1.ReceiveBlock(child)
	obs2.ReceiveBlock(child)

	if obs1.Chain().LastBlock().ID() != child.ID() || obs2.Chain().LastBlock().ID() != child.ID() {
		t.Fatal("both observers should adopt the strictly longer chain")
	}
}

func TestScenarioGenesisWithFiveAccountsAndMining(t *testing.T) {
	if testing.Short() {
		t.Skip("mining at the default difficulty")
	}

	sim := simulator.New()

	aliceKey, _ := signature.GenerateKey()
	bobKey, _ := signature.GenerateKey()
	charlieKey, _ := signature.GenerateKey()
	minnieKey, _ := signature.GenerateKey()
	mickeyKey, _ := signature.GenerateKey()

	alice := storage.AddressOf(aliceKey.PublicKey)
	bob := storage.AddressOf(bobKey.PublicKey)
	charlie := storage.AddressOf(charlieKey.PublicKey)
	minnie := storage.AddressOf(minnieKey.PublicKey)
	mickey := storage.AddressOf(mickeyKey.PublicKey)

	// Default difficulty: 15 leading zero bits, reward 25, fee 1,
	// confirmation depth 6.
	cfg := genesis.Default()
	cfg.InitialBalances = map[storage.Address]uint64{
		alice: 233, bob: 99, charlie: 67, minnie: 400, mickey: 300,
	}

	aliceClient := participant.New(aliceKey, cfg, sim, cfg.MakeGenesisBlock(), nil)
	sim.Register(aliceClient)

	mickeyClient := participant.New(mickeyKey, cfg, sim, cfg.MakeGenesisBlock(), nil)
	sim.Register(mickeyClient)

	m := miner.New(participant.New(minnieKey, cfg, sim, cfg.MakeGenesisBlock(), nil), testRounds, nil)

	if _, err := aliceClient.PostTransaction([]storage.Output{{Amount: 40, Address: bob}}, cfg.DefaultTxFee); err != nil {
		t.Fatalf("posting transfer: %s", err)
	}
	sim.Wait()

	// Mine until the confirmation horizon covers the reward payout for the
	// including block: head 9, depth 6, confirmed = block 3.
	mineUntil(t, m, sim, 9)

	confirmed := m.Chain().LastConfirmedBlock()
	if confirmed.ChainLength < 2 {
		t.Fatalf("confirmed block at length %d, want at least 2", confirmed.ChainLength)
	}

	if got := confirmed.Balance(alice); got != 192 {
		t.Fatalf("alice confirmed = %d, want 192", got)
	}
	if got := confirmed.Balance(bob); got != 139 {
		t.Fatalf("bob confirmed = %d, want 139", got)
	}
	if got := confirmed.Balance(charlie); got != 67 {
		t.Fatalf("charlie confirmed = %d, want untouched 67", got)
	}

	// Rewards visible at confirmed length L cover blocks 1..L-1. Block 1
	// carried the only fee.
	rewarded := confirmed.ChainLength - 1
	wantMiners := 700 + cfg.CoinbaseReward*rewarded + 1
	if got := confirmed.Balance(minnie) + confirmed.Balance(mickey); got != wantMiners {
		t.Fatalf("minnie+mickey confirmed = %d, want %d (%d rewarded blocks)", got, wantMiners, rewarded)
	}

	// Every replica agrees on the confirmed state.
	if got := aliceClient.Chain().LastConfirmedBlock().Balance(alice); got != 192 {
		t.Fatalf("alice's own replica disagrees: %d", got)
	}
	if got := mickeyClient.Chain().LastConfirmedBlock().Balance(bob); got != 139 {
		t.Fatalf("mickey's replica disagrees on bob: %d", got)
	}
}
