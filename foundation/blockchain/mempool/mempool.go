// Package mempool holds transactions a participant has seen but cannot
// yet apply to its current block: nonces ahead of the sender's next
// expected nonce, kept in a per-sender pool keyed address:nonce until
// the gap fills.
package mempool

import (
	"fmt"
	"sync"

	"github.com/chainforge/node/foundation/blockchain/mempool/selector"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// Mempool caches transactions whose nonce was ahead of the sender's
// next-expected nonce at the time they were received.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]storage.Transaction
	selectFn selector.Func
}

// New constructs a Mempool using the default (tip) selection strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyTip)
}

// NewWithStrategy constructs a Mempool using the named selection strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	return &Mempool{
		pool:     make(map[string]storage.Transaction),
		selectFn: selectFn,
	}, nil
}

func mapKey(tx storage.Transaction) string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}

// Count returns the number of transactions currently deferred.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a deferred transaction.
func (mp *Mempool) Upsert(tx storage.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool[mapKey(tx)] = tx
}

// Delete removes a transaction from the pool, if present.
func (mp *Mempool) Delete(tx storage.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, mapKey(tx))
}

// Truncate clears the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]storage.Transaction)
}

// ReadyFor returns the run of pooled transactions from addr with
// consecutive nonces starting at nextNonce, in nonce order, stopping at
// the first nonce that is not pooled (e.g. nonce N and N+1 both arrived
// while N-1 was still missing).
func (mp *Mempool) ReadyFor(addr storage.Address, nextNonce uint64) []storage.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var ready []storage.Transaction
	nonce := nextNonce
	for {
		key := fmt.Sprintf("%s:%d", addr, nonce)
		tx, ok := mp.pool[key]
		if !ok {
			break
		}
		ready = append(ready, tx)
		nonce++
	}

	return ready
}

// PickBest groups the pool by sender and asks the configured selection
// strategy to order howMany of them (-1 for all) for re-offering to a
// block under construction.
func (mp *Mempool) PickBest(howMany int) []storage.Transaction {
	grouped := make(map[storage.Address][]storage.Transaction)

	mp.mu.RLock()
	for _, tx := range mp.pool {
		grouped[tx.From] = append(grouped[tx.From], tx)
	}
	mp.mu.RUnlock()

	return mp.selectFn(grouped, howMany)
}
