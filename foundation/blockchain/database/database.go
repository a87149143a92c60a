package database

import "sync"

// Database is a participant's private replica of the chain: every block it
// has accepted, the blocks still waiting on a missing parent, and the two
// pointers (head, confirmed) that the rest of the system reads balances
// and nonces from.
type Database struct {
	mu sync.RWMutex

	blocks                 map[string]Block
	pendingByMissingParent map[string]map[string]Block

	lastBlock          Block
	lastConfirmedBlock Block
	confirmedDepth     uint64
}

// NewDatabase seeds a Database with the chain's genesis block.
func NewDatabase(genesis Block, confirmedDepth uint64) *Database {
	return &Database{
		blocks:                 map[string]Block{genesis.ID(): genesis},
		pendingByMissingParent: map[string]map[string]Block{},
		lastBlock:              genesis,
		lastConfirmedBlock:     genesis,
		confirmedDepth:         confirmedDepth,
	}
}

// LastBlock returns the head of the heaviest known chain.
func (db *Database) LastBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.lastBlock
}

// LastConfirmedBlock returns the ancestor of LastBlock at ConfirmedDepth
// (or genesis, if the chain is shallower than that).
func (db *Database) LastConfirmedBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.lastConfirmedBlock
}

// Block looks up a previously accepted block by id.
func (db *Database) Block(id string) (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	b, ok := db.blocks[id]
	return b, ok
}

// Has reports whether id names a block this Database has already accepted.
func (db *Database) Has(id string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, ok := db.blocks[id]
	return ok
}

// Len returns the number of accepted blocks, for diagnostics and tests.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.blocks)
}

// ReceiveResult reports what ReceiveBlock did with a block, so callers
// (Participant, Miner) can react: rebroadcast a MissingBlock request,
// prune confirmed pending transactions, or trigger a mining resync.
type ReceiveResult struct {
	Accepted       bool
	HeadAdvanced   bool
	MissingParent  string // set when the block was buffered awaiting a parent
	NewlyRequested bool   // true the first time this parent went missing
	Reject         error  // why a discarded block was discarded
}

// ReceiveBlock runs the consensus pipeline: idempotence, proof
// validation, parent lookup (buffering on a missing parent),
// replay, strict longest-chain adoption, and recursive release of any
// pending children that were waiting on b.
func (db *Database) ReceiveBlock(b Block) ReceiveResult {
	db.mu.Lock()
	defer db.mu.Unlock()

	before := db.lastBlock.ChainLength
	res := db.receiveBlockLocked(b)

	// Releasing buffered children can advance the head past the block that
	// was delivered; report head movement for the whole call, not just b.
	if db.lastBlock.ChainLength > before {
		res.HeadAdvanced = true
	}

	return res
}

func (db *Database) receiveBlockLocked(b Block) ReceiveResult {
	id := b.ID()

	if _, exists := db.blocks[id]; exists {
		return ReceiveResult{Reject: ErrDuplicateBlock}
	}

	if !b.IsGenesis() && !b.HasValidProof() {
		return ReceiveResult{Reject: ErrInvalidProof}
	}

	if !b.IsGenesis() {
		parent, ok := db.blocks[b.PrevBlockHash]
		if !ok {
			set := db.pendingByMissingParent[b.PrevBlockHash]
			newlyRequested := len(set) == 0
			if set == nil {
				set = map[string]Block{}
			}
			set[id] = b
			db.pendingByMissingParent[b.PrevBlockHash] = set

			return ReceiveResult{MissingParent: b.PrevBlockHash, NewlyRequested: newlyRequested, Reject: ErrMissingParent}
		}

		if !b.Rerun(parent) {
			return ReceiveResult{Reject: ErrReplayFailure}
		}
	}

	db.blocks[id] = b

	headAdvanced := false
	if b.ChainLength > db.lastBlock.ChainLength {
		db.lastBlock = b
		db.recomputeLastConfirmed()
		headAdvanced = true
	}

	result := ReceiveResult{Accepted: true, HeadAdvanced: headAdvanced}

	children := db.pendingByMissingParent[id]
	delete(db.pendingByMissingParent, id)
	for _, child := range children {
		db.receiveBlockLocked(child)
	}

	return result
}

// recomputeLastConfirmed walks back ConfirmedDepth ancestors of lastBlock,
// or to genesis if the chain is shallower. Must be called with mu held.
func (db *Database) recomputeLastConfirmed() {
	cur := db.lastBlock
	for i := uint64(0); i < db.confirmedDepth && !cur.IsGenesis(); i++ {
		parent, ok := db.blocks[cur.PrevBlockHash]
		if !ok {
			break
		}
		cur = parent
	}

	db.lastConfirmedBlock = cur
}

// ProvideMissingBlock answers a MissingBlock request: if missing is a block
// this Database holds, it is returned for the requester to adopt.
func (db *Database) ProvideMissingBlock(missing string) (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	b, ok := db.blocks[missing]
	return b, ok
}
