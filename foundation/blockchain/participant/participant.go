// Package participant implements the Client: a registered network
// address with a key pair, an outgoing nonce counter, a
// pending-outgoing set, and the receive-block pipeline that every
// participant (client or miner) runs on delivery of a ProofFound or
// MissingBlock message.
package participant

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// EventHandler is a printf-style callback a participant calls to
// narrate what it does, wired to zap (or dropped) by the driver.
type EventHandler func(v string, args ...any)

// Client is a network participant that posts transactions and
// maintains its own replica of the chain, but builds no blocks itself.
type Client struct {
	mu sync.Mutex

	key     *ecdsa.PrivateKey
	address storage.Address
	cfg     genesis.Config
	net     network.Network
	chain   *database.Database

	nonce           uint64
	pendingOutgoing map[string]storage.Transaction

	ev EventHandler
}

// New constructs a Client around key and seeds its chain replica with
// genesisBlock — late join is supported simply by handing the same
// genesis block to a Client created after the network has already
// advanced, since ReceiveBlock will then buffer every subsequent block
// until the gap is filled by MissingBlock. New does NOT register the
// Client with net: callers that want a plain client listening on the
// wire must call net.Register(client) themselves; Miner instead
// registers itself so that inbound deliveries reach its own Deliver
// override (see miner.New).
func New(key *ecdsa.PrivateKey, cfg genesis.Config, net network.Network, genesisBlock database.Block, ev EventHandler) *Client {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	c := &Client{
		key:             key,
		address:         storage.AddressOf(key.PublicKey),
		cfg:             cfg,
		net:             net,
		chain:           database.NewDatabase(genesisBlock, cfg.ConfirmedDepth),
		pendingOutgoing: make(map[string]storage.Transaction),
		ev:              ev,
	}

	return c
}

// Address implements network.Handle.
func (c *Client) Address() storage.Address { return c.address }

// Chain exposes the participant's chain replica, for Miner (composition)
// and for tests/handlers that need to query balances or blocks directly.
func (c *Client) Chain() *database.Database { return c.chain }

// Config returns the shared blockchain parameters.
func (c *Client) Config() genesis.Config { return c.cfg }

// Network returns the network collaborator this participant was built with.
func (c *Client) Network() network.Network { return c.net }

// ConfirmedBalance is the address's balance in the last confirmed block.
func (c *Client) ConfirmedBalance() uint64 {
	return c.chain.LastConfirmedBlock().Balance(c.address)
}

// AvailableGold is ConfirmedBalance minus the total output of every
// transaction this client has posted but not yet seen confirmed.
func (c *Client) AvailableGold() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.ConfirmedBalance()
	for _, tx := range c.pendingOutgoing {
		total -= tx.TotalOutput()
	}

	return total
}

// ErrInsufficientFunds is returned by PostTransaction when the
// requested total exceeds AvailableGold.
type ErrInsufficientFunds struct {
	Requested, Available uint64
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: requested %d, available %d", e.Requested, e.Available)
}

// PostTransaction builds, signs, records, and broadcasts a transfer
// from this client's address.
func (c *Client) PostTransaction(outputs []storage.Output, fee uint64) (storage.Transaction, error) {
	total := fee
	for _, o := range outputs {
		total += o.Amount
	}

	c.mu.Lock()
	available := c.availableGoldLocked()
	if total > available {
		c.mu.Unlock()
		return storage.Transaction{}, &ErrInsufficientFunds{Requested: total, Available: available}
	}

	tx := c.cfg.MakeTransaction(c.address, c.nonce, c.key.PublicKey, outputs, fee, nil)
	signed, err := tx.Sign(c.key)
	if err != nil {
		c.mu.Unlock()
		return storage.Transaction{}, fmt.Errorf("signing transaction: %w", err)
	}

	c.pendingOutgoing[signed.ID()] = signed
	c.nonce++
	c.mu.Unlock()

	c.ev("participant: %s: post tx %s nonce=%d", shortAddr(c.address), signed.ID(), signed.Nonce)
	c.net.Broadcast(c.address, network.PostTransaction, signed)

	return signed, nil
}

func (c *Client) availableGoldLocked() uint64 {
	total := c.ConfirmedBalance()
	for _, tx := range c.pendingOutgoing {
		total -= tx.TotalOutput()
	}

	return total
}

// ResendPendingTransactions rebroadcasts every still-pending outgoing
// transaction. Idempotent; intended for use after reconnection.
func (c *Client) ResendPendingTransactions() {
	c.mu.Lock()
	pending := make([]storage.Transaction, 0, len(c.pendingOutgoing))
	for _, tx := range c.pendingOutgoing {
		pending = append(pending, tx)
	}
	c.mu.Unlock()

	for _, tx := range pending {
		c.net.Broadcast(c.address, network.PostTransaction, tx)
	}
}

// PendingOutgoing returns a snapshot of this client's unconfirmed
// outgoing transactions, for display.
func (c *Client) PendingOutgoing() []storage.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]storage.Transaction, 0, len(c.pendingOutgoing))
	for _, tx := range c.pendingOutgoing {
		out = append(out, tx)
	}

	return out
}

// ReceiveBlock runs the consensus pipeline against this client's chain
// replica, then reacts to the result: request a missing parent, or
// prune pendingOutgoing of anything now confirmed.
func (c *Client) ReceiveBlock(b database.Block) database.ReceiveResult {
	res := c.chain.ReceiveBlock(b)

	switch {
	case res.NewlyRequested:
		c.ev("participant: %s: requesting missing parent %s", shortAddr(c.address), res.MissingParent)
		c.net.Broadcast(c.address, network.MissingBlock, network.MissingBlockRequest{
			From:    c.address,
			Missing: res.MissingParent,
		})

	case res.HeadAdvanced:
		c.pruneConfirmedPending()

	case res.Reject != nil &&
		!errors.Is(res.Reject, database.ErrDuplicateBlock) &&
		!errors.Is(res.Reject, database.ErrMissingParent):
		// Duplicates are business as usual on a gossip network, and a
		// buffered orphan is not discarded; anything else is worth a log
		// line with the offending id.
		c.ev("participant: %s: discarding block %s: %s", shortAddr(c.address), b.ID(), res.Reject)
	}

	return res
}

func (c *Client) pruneConfirmedPending() {
	confirmed := c.chain.LastConfirmedBlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.pendingOutgoing {
		if confirmed.ContainsID(id) {
			delete(c.pendingOutgoing, id)
		}
	}
}

// ProvideMissingBlock answers a MissingBlock request with a targeted
// send if this replica holds the requested block.
func (c *Client) ProvideMissingBlock(req network.MissingBlockRequest) {
	b, ok := c.chain.ProvideMissingBlock(req.Missing)
	if !ok {
		return
	}

	raw, err := b.Serialize()
	if err != nil {
		return
	}

	c.net.SendTo(c.address, req.From, network.ProofFound, json.RawMessage(raw))
}

// Deliver implements network.Handle: it dispatches an inbound envelope
// to the right handler by Kind. A pure Client never reacts to
// PostTransaction (it builds no blocks); Miner handles that itself.
func (c *Client) Deliver(env network.Envelope) {
	switch env.Kind {
	case network.ProofFound:
		b, err := c.cfg.DeserializeBlock(env.Payload)
		if err != nil {
			c.ev("participant: %s: malformed ProofFound block: %s", shortAddr(c.address), err)
			return
		}
		c.ReceiveBlock(b)

	case network.MissingBlock:
		var req network.MissingBlockRequest
		if err := network.Decode(env.Payload, &req); err != nil {
			return
		}
		c.ProvideMissingBlock(req)
	}
}

func shortAddr(a storage.Address) string {
	s := string(a)
	if len(s) > 8 {
		return s[:8]
	}

	return s
}
