// Package selector provides different transaction selecting algorithms
// for picking which deferred, out-of-order transactions a miner should
// re-offer to its block first once their nonce becomes current.
package selector

import (
	"fmt"
	"sort"

	"github.com/chainforge/node/foundation/blockchain/storage"
)

// List of the selection strategies this package knows about.
const (
	StrategyTip = "tip"
)

// Func defines a function that takes transactions grouped by sender and
// returns howMany of them in the order the miner should attempt to
// re-add them to its current block. Every selector MUST respect nonce
// ordering within a sender: a later nonce must never be offered before
// an earlier one from the same sender. Passing -1 for howMany returns
// every transaction in the strategy's ordering.
type Func func(transactions map[storage.Address][]storage.Transaction, howMany int) []storage.Transaction

var strategies = map[string]Func{
	StrategyTip: tipSelect,
}

// Retrieve returns the named selection strategy.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}

	return fn, nil
}

// =============================================================================

type byNonce []storage.Transaction

func (bn byNonce) Len() int           { return len(bn) }
func (bn byNonce) Less(i, j int) bool { return bn[i].Nonce < bn[j].Nonce }
func (bn byNonce) Swap(i, j int)      { bn[i], bn[j] = bn[j], bn[i] }

type byFee []storage.Transaction

func (bf byFee) Len() int           { return len(bf) }
func (bf byFee) Less(i, j int) bool { return bf[i].Fee > bf[j].Fee }
func (bf byFee) Swap(i, j int)      { bf[i], bf[j] = bf[j], bf[i] }

// tipSelect orders transactions sender-row by sender-row (lowest pending
// nonce per sender first, so replay ordering is never violated), breaking
// ties within a row by the highest fee.
func tipSelect(m map[storage.Address][]storage.Transaction, howMany int) []storage.Transaction {
	for addr := range m {
		if len(m[addr]) > 1 {
			sort.Sort(byNonce(m[addr]))
		}
	}

	var rows [][]storage.Transaction
	for {
		var row []storage.Transaction
		for addr := range m {
			if len(m[addr]) > 0 {
				row = append(row, m[addr][0])
				m[addr] = m[addr][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	final := make([]storage.Transaction, 0)
done:
	for _, row := range rows {
		if howMany >= 0 {
			need := howMany - len(final)
			if need <= 0 {
				break done
			}
			if len(row) > need {
				sort.Sort(byFee(row))
				final = append(final, row[:need]...)
				break done
			}
		}
		sort.Sort(byFee(row))
		final = append(final, row...)
	}

	return final
}
