// Package genesis owns the blockchain's process-wide parameters and
// constructs the chain's genesis block from them. A Config is built
// once by the driver and handed to every participant at construction;
// it is never mutated afterwards.
package genesis

import (
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"time"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/holiman/uint256"
)

// Config holds the global parameters every participant shares: the PoW
// difficulty, the reward schedule, the confirmation depth, and the
// starting balances that seed the genesis block.
type Config struct {
	PowLeadingZeroes uint   `json:"pow_leading_zeroes"`
	CoinbaseReward   uint64 `json:"coinbase_reward"`
	DefaultTxFee     uint64 `json:"default_tx_fee"`
	ConfirmedDepth   uint64 `json:"confirmed_depth"`

	InitialBalances map[storage.Address]uint64 `json:"initial_balances"`
}

// Default returns the chain's default parameters: 15 leading zero
// bits, a coinbase reward of 25, a default fee of 1, and a 6 block
// confirmation depth. InitialBalances is left empty for the caller to set.
func Default() Config {
	return Config{
		PowLeadingZeroes: 15,
		CoinbaseReward:   25,
		DefaultTxFee:     1,
		ConfirmedDepth:   6,
		InitialBalances:  map[storage.Address]uint64{},
	}
}

// Target computes the PoW target implied by PowLeadingZeroes: 2^256-1
// right-shifted by that many bits. Higher values make mining harder.
func (c Config) Target() *uint256.Int {
	max := new(uint256.Int).Not(uint256.NewInt(0))
	return new(uint256.Int).Rsh(max, c.PowLeadingZeroes)
}

// MakeGenesisBlock constructs the chain-length-0 block from InitialBalances.
// This is the one point at which balances ARE the serialised block payload.
// The timestamp is fixed at the Unix epoch, so every call on the same
// Config yields the same block and id and all participants share one
// genesis.
func (c Config) MakeGenesisBlock() database.Block {
	g := database.NewGenesis(c.InitialBalances)
	g.Timestamp = time.Unix(0, 0).UTC()
	return g
}

// MakeBlock constructs the block that extends prev, crediting prev's
// reward address with prev's accumulated coinbase reward and fees.
// Going through the Config keeps block construction swappable in tests
// without touching participant or miner code.
func (c Config) MakeBlock(rewardAddr storage.Address, prev database.Block) database.Block {
	return database.New(rewardAddr, prev, c.Target(), c.CoinbaseReward)
}

// MakeTransaction constructs an unsigned transaction. The fee is taken
// as given: zero is a valid fee, so callers that want the chain's
// default ask for DefaultTxFee explicitly.
func (c Config) MakeTransaction(from storage.Address, nonce uint64, pubKey ecdsa.PublicKey, outputs []storage.Output, fee uint64, data map[string]any) storage.Transaction {
	return storage.New(from, nonce, pubKey, outputs, fee, data)
}

// DeserializeBlock parses a block received off the wire, stamping it
// with this configuration's PoW target so its proof can be checked and
// its coinbase reward so the next block credits the right payout.
func (c Config) DeserializeBlock(data []byte) (database.Block, error) {
	return database.DeserializeBlock(data, c.Target(), c.CoinbaseReward)
}

// =============================================================================

// Load reads a Config from a JSON file on disk, conventionally
// zblock/genesis.json. The blockchain itself is never persisted this
// way, only the parameters used to reconstruct genesis.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes cfg to path as JSON, for a driver that wants to pin the
// parameters it started a network with.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}
