// Package miner implements a participant that, in addition to
// everything a Client does, owns a block under construction and races
// to extend the chain with proof-of-work. The search is chunked:
// bounded batches of hash attempts with a yield between batches so
// inbound gossip is never starved.
package miner

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/mempool"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/participant"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// defaultMiningRounds is the number of PoW attempts FindProof performs
// before yielding back to the caller so pending inbound messages can
// be drained.
const defaultMiningRounds = 2000

// Miner extends a Client with a block under construction and a PoW
// search loop.
type Miner struct {
	*participant.Client

	mu           sync.Mutex
	currentBlock database.Block
	miningRounds uint64
	pool         *mempool.Mempool

	startMining chan struct{}
	cancel      chan struct{}
	wg          sync.WaitGroup

	ev participant.EventHandler
}

// New constructs a Miner around an inner Client, registers it on the
// network, and immediately starts its first mining block.
func New(client *participant.Client, miningRounds uint64, ev participant.EventHandler) *Miner {
	if miningRounds == 0 {
		miningRounds = defaultMiningRounds
	}
	if ev == nil {
		ev = func(string, ...any) {}
	}

	pool, _ := mempool.New()

	m := &Miner{
		Client:       client,
		miningRounds: miningRounds,
		pool:         pool,
		startMining:  make(chan struct{}, 1),
		cancel:       make(chan struct{}),
		ev:           ev,
	}

	client.Network().Register(m)
	m.startNewSearch(nil)

	return m
}

// Deliver overrides Client.Deliver. It does not delegate to
// m.Client.Deliver for ProofFound: Go embedding gives no virtual
// dispatch, so a delegated call would run Client.ReceiveBlock instead
// of Miner.ReceiveBlock and the resync-on-outpaced-fork logic would
// never fire. Every kind is therefore handled explicitly here.
func (m *Miner) Deliver(env network.Envelope) {
	switch env.Kind {
	case network.PostTransaction:
		var tx storage.Transaction
		if err := network.Decode(env.Payload, &tx); err != nil {
			return
		}
		m.AddToCurrentBlock(tx)
		m.signalStartMining()

	case network.ProofFound:
		b, err := m.Config().DeserializeBlock(env.Payload)
		if err != nil {
			m.ev("miner: %s: malformed ProofFound block: %s", m.Address(), err)
			return
		}
		m.ReceiveBlock(b)

	case network.MissingBlock:
		var req network.MissingBlockRequest
		if err := network.Decode(env.Payload, &req); err != nil {
			return
		}
		m.ProvideMissingBlock(req)
	}
}

// AddToCurrentBlock delegates to the current block's AddTransaction. If
// the transaction's nonce is ahead of what the block expects, it is
// held in the miner's mempool so it can be re-offered once its nonce
// becomes current.
func (m *Miner) AddToCurrentBlock(tx storage.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentBlock.AddTransaction(tx) {
		m.pool.Delete(tx)
		m.offerReadyLocked(tx.From)
		return
	}

	if tx.Nonce > m.currentBlock.NextNonceFor(tx.From) {
		m.pool.Upsert(tx)
	}
}

// offerReadyLocked re-offers every pooled transaction whose nonce now
// matches tx.From's next expected nonce, walking forward as each
// successive nonce is absorbed. Must be called with mu held.
func (m *Miner) offerReadyLocked(addr storage.Address) {
	for {
		ready := m.pool.ReadyFor(addr, m.currentBlock.NextNonceFor(addr))
		if len(ready) == 0 {
			return
		}

		progressed := false
		for _, tx := range ready {
			if m.currentBlock.AddTransaction(tx) {
				m.pool.Delete(tx)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// FindProof performs at most MiningRounds hash attempts on the current
// block. If a valid proof is found it announces the block, feeds it
// back through ReceiveBlock so this miner's own chain state advances
// exactly like every other participant's, and starts a new search
// carrying forward any still-unconfirmed transactions. Either way it
// re-arms the start-mining signal so queued inbound messages get a
// chance to run first.
func (m *Miner) FindProof() {
	m.mu.Lock()
	end := m.currentBlock.Proof + m.miningRounds
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.currentBlock.Proof >= end {
			m.mu.Unlock()
			break
		}

		if m.currentBlock.HasValidProof() {
			found := m.currentBlock
			m.mu.Unlock()

			m.ev("miner: %s: found proof for block %d", m.Address(), found.ChainLength)

			raw, err := found.Serialize()
			if err != nil {
				return
			}
			m.Network().Broadcast(m.Address(), network.ProofFound, json.RawMessage(raw))

			// ReceiveBlock advances this miner's own chain exactly like
			// every other participant's, and its resync path starts the
			// next search carrying forward what the sealed block did not
			// include.
			m.ReceiveBlock(found)
			m.signalStartMining()
			return
		}

		m.currentBlock.Proof++
		m.mu.Unlock()
	}

	m.signalStartMining()
}

// ReceiveBlock overrides Client.ReceiveBlock: after the base pipeline
// has run, if the accepted block reaches or passes this miner's own
// block under construction, the miner's fork has lost the race (or
// tied) and must resync its current block onto the new head.
func (m *Miner) ReceiveBlock(b database.Block) database.ReceiveResult {
	res := m.Client.ReceiveBlock(b)

	// Compare against the post-acceptance head rather than b itself: when b
	// fills a parent gap, the released children can move the head well past
	// the block that was delivered.
	newHead := m.Chain().LastBlock()

	m.mu.Lock()
	outpaced := res.Accepted && newHead.ChainLength >= m.currentBlock.ChainLength
	m.mu.Unlock()

	if outpaced {
		carry := m.SyncTransactions(newHead)
		m.startNewSearch(carry)
	}

	return res
}

// SyncTransactions walks back the miner's old in-progress chain and the
// new head's chain to genesis, and returns every
// transaction that was on the old fork but is not on the new one — the
// set that must be carried forward into the next current block so a
// losing fork's transactions are not silently forgotten.
func (m *Miner) SyncTransactions(newHead database.Block) []storage.Transaction {
	m.mu.Lock()
	oldTip := m.currentBlock
	m.mu.Unlock()

	chain := m.Chain()

	oldSeen := map[string]storage.Transaction{}
	cur := oldTip
	for !cur.IsGenesis() {
		for _, tx := range cur.Transactions() {
			oldSeen[tx.ID()] = tx
		}
		parent, ok := chain.Block(cur.PrevBlockHash)
		if !ok {
			break
		}
		cur = parent
	}

	cur = newHead
	for !cur.IsGenesis() {
		for _, tx := range cur.Transactions() {
			delete(oldSeen, tx.ID())
		}
		parent, ok := chain.Block(cur.PrevBlockHash)
		if !ok {
			break
		}
		cur = parent
	}

	carry := make([]storage.Transaction, 0, len(oldSeen))
	for _, tx := range oldSeen {
		carry = append(carry, tx)
	}

	return carry
}

// startNewSearch installs a fresh current block on top of this miner's
// chain head, then re-applies carry (transactions salvaged from a
// losing fork) and everything still pooled, dropping silently anything
// that no longer applies (e.g. it was confirmed on the winning fork).
func (m *Miner) startNewSearch(carry []storage.Transaction) {
	cfg := m.Config()
	parent := m.Chain().LastBlock()

	m.mu.Lock()
	m.currentBlock = cfg.MakeBlock(m.Address(), parent)
	for _, tx := range carry {
		m.currentBlock.AddTransaction(tx)
	}
	for _, tx := range m.pool.PickBest(-1) {
		if m.currentBlock.AddTransaction(tx) {
			m.pool.Delete(tx)
		}
	}
	m.mu.Unlock()
}

// signalStartMining arms the miner's own start-mining signal without
// blocking if one is already pending. The signal never crosses the
// wire; it only wakes this miner's Run loop.
func (m *Miner) signalStartMining() {
	select {
	case m.startMining <- struct{}{}:
	default:
	}
}

// Run starts the miner's own event loop: it drains startMining signals
// and calls FindProof, until ctx is cancelled. Tests that want full
// control over interleaving can skip Run and call FindProof directly;
// the node service runs this on a dedicated goroutine.
func (m *Miner) Run(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	m.signalStartMining()

	for {
		select {
		case <-m.startMining:
			m.FindProof()
		case <-ctx.Done():
			return
		case <-m.cancel:
			return
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (m *Miner) Stop() {
	close(m.cancel)
	m.wg.Wait()
}

// CurrentBlock returns a snapshot of the block under construction, for
// diagnostics and tests.
func (m *Miner) CurrentBlock() database.Block {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentBlock
}
