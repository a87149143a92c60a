// Package archive appends every sealed block this node observes to a
// JSON-lines file on disk. The chain itself is authoritative only in
// memory; the archive exists so a restarted node can rebuild its replica
// locally instead of re-fetching every block from peers one MissingBlock
// request at a time.
package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// EventHandler defines a function that is called when things happen in
// the archive that the node may want to log.
type EventHandler func(v string, args ...any)

// Archive is an append-only record of the serialised blocks a node has
// seen, one JSON document per line.
type Archive struct {
	mu   sync.Mutex
	file *os.File
	path string
	cfg  genesis.Config
	seen map[string]struct{}
	ev   EventHandler
}

// New opens (creating if needed) the archive file at path. The chain
// configuration is needed to reconstruct blocks read back from disk or
// taken off the wire: the PoW target and coinbase reward are not part
// of a block's serialised form.
func New(path string, cfg genesis.Config, ev EventHandler) (*Archive, error) {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening archive file: %w", err)
	}

	return &Archive{
		file: file,
		path: path,
		cfg:  cfg,
		seen: make(map[string]struct{}),
		ev:   ev,
	}, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.file.Close()
}

// Append writes b to the archive. Blocks already recorded in this
// process's lifetime are skipped, so gossip re-deliveries don't grow the
// file.
func (a *Archive) Append(b database.Block) error {
	id := b.ID()

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.seen[id]; exists {
		return nil
	}

	data, err := b.Serialize()
	if err != nil {
		return fmt.Errorf("serializing block for archive: %w", err)
	}

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing block to archive: %w", err)
	}

	a.seen[id] = struct{}{}
	a.ev("archive: wrote block %d [%s]", b.ChainLength, id)

	return nil
}

// Replay reads the archive from the start and hands every block to fn in
// file order. File order is append order, so a node that archives what it
// accepts replays parents before children. The ids seen are recorded so a
// later Append of the same block is a no-op.
func (a *Archive) Replay(fn func(database.Block)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.Seek(0, 0); err != nil {
		return fmt.Errorf("rewinding archive: %w", err)
	}

	scanner := bufio.NewScanner(a.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		b, err := a.cfg.DeserializeBlock(line)
		if err != nil {
			a.ev("archive: skipping corrupt entry: %s", err)
			continue
		}

		a.seen[b.ID()] = struct{}{}
		fn(b)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning archive: %w", err)
	}

	if _, err := a.file.Seek(0, 2); err != nil {
		return fmt.Errorf("seeking archive end: %w", err)
	}

	return nil
}

// =============================================================================

// listenerAddress is the pseudo-address the archive registers under. It
// is never the source of a broadcast, so every gossiped message reaches it.
const listenerAddress storage.Address = "archive"

// Listener adapts an Archive to the network.Handle interface so it can be
// registered alongside the node's participants and record every sealed
// block that crosses the wire.
type Listener struct {
	archive *Archive
}

// NewListener constructs a Listener over the archive.
func NewListener(a *Archive) *Listener {
	return &Listener{archive: a}
}

// Address implements network.Handle.
func (l *Listener) Address() storage.Address {
	return listenerAddress
}

// Deliver records ProofFound payloads and ignores every other kind.
func (l *Listener) Deliver(env network.Envelope) {
	if env.Kind != network.ProofFound {
		return
	}

	b, err := l.archive.cfg.DeserializeBlock(env.Payload)
	if err != nil {
		l.archive.ev("archive: malformed block payload: %s", err)
		return
	}

	if !b.HasValidProof() {
		return
	}

	if err := l.archive.Append(b); err != nil {
		l.archive.ev("archive: append: %s", err)
	}
}
