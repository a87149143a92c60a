// Package database implements the Block and the per-participant chain
// store that validates, stores, and replays blocks to reconstruct
// account balances.
package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/holiman/uint256"
)

// Block is a ledger-state snapshot: it carries the transactions applied on
// top of its parent plus the resulting balances and per-account nonces.
// Balances and NextNonce are derived by replay; they are not part of the
// serialised, hashed form of a non-genesis block.
type Block struct {
	ChainLength    uint64
	PrevBlockHash  string // empty for genesis
	Timestamp      time.Time
	Target         *uint256.Int
	Proof          uint64
	RewardAddr     storage.Address // empty for genesis
	CoinbaseReward uint64

	txOrder []string
	txs     map[string]storage.Transaction

	Balances  map[storage.Address]uint64
	NextNonce map[storage.Address]uint64
}

// New constructs the block that extends prev. The previous block's
// coinbase reward plus the fees it collected become visible in the new
// block's starting balances, credited to prev's reward address — mining
// rewards are paid out one block late, when the NEXT block is built.
func New(rewardAddr storage.Address, prev Block, target *uint256.Int, coinbaseReward uint64) Block {
	b := Block{
		ChainLength:    prev.ChainLength + 1,
		PrevBlockHash:  prev.ID(),
		Timestamp:      time.Now().UTC(),
		Target:         target,
		RewardAddr:     rewardAddr,
		CoinbaseReward: coinbaseReward,
		txs:            make(map[string]storage.Transaction),
		Balances:       cloneBalances(prev.Balances),
		NextNonce:      cloneBalances(prev.NextNonce),
	}

	if prev.RewardAddr != "" {
		b.Balances[prev.RewardAddr] += prev.TotalRewards()
	}

	return b
}

// NewGenesis constructs the chain-length-0 block directly from a set of
// starting balances. It has no parent, no proof, and no transactions;
// balances ARE its serialised payload.
func NewGenesis(balances map[storage.Address]uint64) Block {
	return Block{
		ChainLength: 0,
		Timestamp:   time.Now().UTC(),
		txs:         make(map[string]storage.Transaction),
		Balances:    cloneBalances(balances),
		NextNonce:   make(map[storage.Address]uint64),
	}
}

func cloneBalances(m map[storage.Address]uint64) map[storage.Address]uint64 {
	out := make(map[storage.Address]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// IsGenesis reports whether this is the chain-length-0 block.
func (b Block) IsGenesis() bool {
	return b.ChainLength == 0 && b.PrevBlockHash == ""
}

// Balance returns the address's balance, defaulting to 0.
func (b Block) Balance(addr storage.Address) uint64 {
	return b.Balances[addr]
}

// NextNonceFor returns the next nonce expected from addr, defaulting to 0.
func (b Block) NextNonceFor(addr storage.Address) uint64 {
	return b.NextNonce[addr]
}

// Transactions returns the block's transactions in insertion (apply) order.
func (b Block) Transactions() []storage.Transaction {
	txs := make([]storage.Transaction, 0, len(b.txOrder))
	for _, id := range b.txOrder {
		txs = append(txs, b.txs[id])
	}

	return txs
}

// Contains reports whether tx (identified by id) is recorded in this block.
func (b Block) Contains(tx storage.Transaction) bool {
	_, exists := b.txs[tx.ID()]
	return exists
}

// ContainsID reports whether a transaction with the given id is recorded
// in this block.
func (b Block) ContainsID(id string) bool {
	_, exists := b.txs[id]
	return exists
}

// TotalRewards is the coinbase reward plus the sum of every included
// transaction's fee, paid to RewardAddr when the next block is built.
func (b Block) TotalRewards() uint64 {
	total := b.CoinbaseReward
	for _, tx := range b.txs {
		total += tx.Fee
	}

	return total
}

// CheckTransaction reports why tx cannot be applied to the block in its
// current state, or nil if it can. Checks run in a fixed order:
// duplicate, signature, funds, replayed nonce, out-of-order nonce.
func (b Block) CheckTransaction(tx storage.Transaction) error {
	if _, exists := b.txs[tx.ID()]; exists {
		return ErrDuplicateTransaction
	}

	if !tx.HasSignature() || !tx.ValidSignature() {
		return ErrInvalidSignature
	}

	if !tx.SufficientFunds(b.Balance(tx.From)) {
		return ErrInsufficientFunds
	}

	expected := b.NextNonceFor(tx.From)
	switch {
	case tx.Nonce < expected:
		return ErrReplayedNonce
	case tx.Nonce > expected:
		// Out of order is a deferral, not a failure; the caller may hold
		// the transaction until the gap fills.
		return ErrOutOfOrderNonce
	}

	return nil
}

// AddTransaction applies tx to the block's in-progress balances and nonce
// table. A false return means no state was changed.
func (b *Block) AddTransaction(tx storage.Transaction) bool {
	if b.CheckTransaction(tx) != nil {
		return false
	}

	id := tx.ID()
	b.txs[id] = tx
	b.txOrder = append(b.txOrder, id)

	b.Balances[tx.From] -= tx.TotalOutput()
	for _, out := range tx.Outputs {
		b.Balances[out.Address] += out.Amount
	}
	b.NextNonce[tx.From] = tx.Nonce + 1

	return true
}

// HasValidProof reports whether the block's hash, read as a big-endian
// 256-bit integer, falls below Target.
func (b Block) HasValidProof() bool {
	if b.Target == nil {
		return false
	}

	h := signature.RawHash(b.hashableWire())
	n := new(uint256.Int).SetBytes(h[:])

	return n.Lt(b.Target)
}

// ID is the block's content-addressed id: the hash of its canonical,
// derived-state-free serialisation.
func (b Block) ID() string {
	if b.IsGenesis() {
		return signature.Hash(b.genesisWire())
	}

	return signature.Hash(b.blockWire())
}

// hashableWire mirrors ID's wire selection, used for the raw digest needed
// by the PoW comparison.
func (b Block) hashableWire() any {
	if b.IsGenesis() {
		return b.genesisWire()
	}

	return b.blockWire()
}

// blockWire and genesisWire pin the exact field set and order that
// participate in a block's id. Changing either changes every block id
// on the chain.
type blockWire struct {
	ChainLength   uint64          `json:"chain_length"`
	Timestamp     int64           `json:"timestamp"`
	Transactions  [][2]any        `json:"transactions"`
	PrevBlockHash string          `json:"prev_block_hash"`
	Proof         uint64          `json:"proof"`
	RewardAddr    storage.Address `json:"reward_addr"`
}

type genesisWire struct {
	ChainLength uint64   `json:"chain_length"`
	Timestamp   int64    `json:"timestamp"`
	Balances    [][2]any `json:"balances"`
}

func (b Block) blockWire() blockWire {
	txs := make([][2]any, 0, len(b.txOrder))
	for _, id := range b.txOrder {
		txs = append(txs, [2]any{id, b.txs[id]})
	}

	return blockWire{
		ChainLength:   b.ChainLength,
		Timestamp:     b.Timestamp.UnixNano(),
		Transactions:  txs,
		PrevBlockHash: b.PrevBlockHash,
		Proof:         b.Proof,
		RewardAddr:    b.RewardAddr,
	}
}

func (b Block) genesisWire() genesisWire {
	addrs := make([]storage.Address, 0, len(b.Balances))
	for addr := range b.Balances {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	balances := make([][2]any, 0, len(addrs))
	for _, addr := range addrs {
		balances = append(balances, [2]any{addr, b.Balances[addr]})
	}

	return genesisWire{
		ChainLength: b.ChainLength,
		Timestamp:   b.Timestamp.UnixNano(),
		Balances:    balances,
	}
}

// Rerun resets the block's derived state to prev's and replays every
// transaction that was previously recorded. It reports false, leaving the
// block in an invalid state the caller must reject, if any transaction
// fails to reapply (for example because the new parent already confirmed
// a conflicting nonce).
func (b *Block) Rerun(prev Block) bool {
	order := b.txOrder
	txs := b.txs

	b.Balances = cloneBalances(prev.Balances)
	b.NextNonce = cloneBalances(prev.NextNonce)
	if prev.RewardAddr != "" {
		b.Balances[prev.RewardAddr] += prev.TotalRewards()
	}
	b.txs = make(map[string]storage.Transaction)
	b.txOrder = nil

	for _, id := range order {
		if !b.AddTransaction(txs[id]) {
			return false
		}
	}

	return true
}

// Serialize returns the block's canonical wire encoding: the balances
// form for the chain-length-0 block, the transaction form otherwise.
// Identical logical content always produces identical bytes, so the id
// is stable across Serialize/Deserialize/Rerun.
func (b Block) Serialize() ([]byte, error) {
	return json.Marshal(b.hashableWire())
}

// DeserializeBlock parses data produced by Serialize back into a Block.
// The PoW target and coinbase reward are chain-wide configuration, not
// part of the wire form, so the receiver supplies both: without the
// target a parsed block could never pass HasValidProof, and without the
// reward every replica rebuilt from the wire would pay out fees but no
// coinbase when the next block credits TotalRewards. For a non-genesis
// block the derived Balances/NextNonce are left empty; the caller must
// reconstruct them by calling Rerun against the known parent, exactly
// as a freshly-received block would be.
func DeserializeBlock(data []byte, target *uint256.Int, coinbaseReward uint64) (Block, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Block{}, err
	}

	if _, isGenesis := probe["balances"]; isGenesis {
		var wire struct {
			genesisWire
			Balances [][2]json.RawMessage `json:"balances"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return Block{}, err
		}

		balances := make(map[storage.Address]uint64, len(wire.Balances))
		for _, pair := range wire.Balances {
			addr, amount := pair[0], pair[1]
			var a storage.Address
			var v uint64
			if err := remarshal(addr, &a); err != nil {
				return Block{}, err
			}
			if err := remarshal(amount, &v); err != nil {
				return Block{}, err
			}
			balances[a] = v
		}

		b := NewGenesis(balances)
		b.Timestamp = time.Unix(0, wire.Timestamp).UTC()
		return b, nil
	}

	// The transaction pairs are kept as raw JSON so the signature's
	// big.Int values are decoded straight into storage.Transaction
	// rather than through float64.
	var wire struct {
		blockWire
		Transactions [][2]json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Block{}, err
	}

	b := Block{
		ChainLength:    wire.ChainLength,
		Timestamp:      time.Unix(0, wire.Timestamp).UTC(),
		PrevBlockHash:  wire.PrevBlockHash,
		Target:         target,
		Proof:          wire.Proof,
		RewardAddr:     wire.RewardAddr,
		CoinbaseReward: coinbaseReward,
		txs:            make(map[string]storage.Transaction),
	}

	for _, pair := range wire.Transactions {
		idRaw, txRaw := pair[0], pair[1]
		var id string
		var tx storage.Transaction
		if err := remarshal(idRaw, &id); err != nil {
			return Block{}, err
		}
		if err := remarshal(txRaw, &tx); err != nil {
			return Block{}, err
		}
		b.txs[id] = tx
		b.txOrder = append(b.txOrder, id)
	}

	return b, nil
}

// remarshal round-trips v (a json.RawMessage taken from one element of a
// wire pair) through JSON into out.
func remarshal(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

// String implements fmt.Stringer for logging.
func (b Block) String() string {
	return fmt.Sprintf("block[%d]=%s", b.ChainLength, b.ID())
}
