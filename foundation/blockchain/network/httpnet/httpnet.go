// Package httpnet is the real-transport implementation of
// network.Network: it posts transactions, proofs, and missing-block
// requests to peer nodes over HTTP, retrying flaky peers with
// exponential backoff. Peers can be configured statically or
// discovered on the LAN over mDNS.
package httpnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/peer"
	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/grandcat/zeroconf"
)

// mdnsService is the mDNS service type this node advertises and browses
// on the LAN for peer discovery.
const mdnsService = "_chainforge._tcp"

// HTTPNet is a network.Network that talks to peers over HTTP. A single
// process normally runs one HTTPNet per node: the local Handles (one
// per participant running inside this process) are dispatched to
// directly; every other registered address is assumed to live on a
// peer and is reached over the wire.
type HTTPNet struct {
	mu     sync.RWMutex
	local  map[storage.Address]network.Handle
	peers  *peer.PeerSet
	client *http.Client

	evHandler func(string, ...any)
}

// New constructs an HTTPNet that dials out to the given known peers.
func New(knownPeers []string, evHandler func(string, ...any)) *HTTPNet {
	ps := peer.NewPeerSet()
	for _, host := range knownPeers {
		ps.Add(peer.New(host))
	}

	if evHandler == nil {
		evHandler = func(string, ...any) {}
	}

	return &HTTPNet{
		local:     make(map[storage.Address]network.Handle),
		peers:     ps,
		client:    &http.Client{Timeout: 5 * time.Second},
		evHandler: evHandler,
	}
}

// Register announces a participant running inside this process.
func (n *HTTPNet) Register(h network.Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.local[h.Address()] = h
}

// Recognises reports whether addr is a participant local to this
// process. It cannot know about addresses living on peers without
// asking them, so it only ever answers for local registrations.
func (n *HTTPNet) Recognises(addr storage.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	_, ok := n.local[addr]
	return ok
}

// Broadcast delivers payload locally to every registered participant
// except from, and posts it to the private gossip endpoint of every known
// peer.
func (n *HTTPNet) Broadcast(from storage.Address, kind network.Kind, payload any) {
	n.mu.RLock()
	for addr, h := range n.local {
		if addr != from {
			h.Deliver(network.Envelope{From: from, Kind: kind, Payload: mustEncode(payload)})
		}
	}
	n.mu.RUnlock()

	for _, p := range n.peers.Copy("") {
		go n.post(p.Host, kind, payload)
	}
}

// SendTo delivers payload to to, directly if it is registered in this
// process. An account address carries no routing information, so for a
// remote target the message is posted to every known peer instead; the
// payloads sent this way (blocks answering a MissingBlock request) are
// idempotent on receipt, so over-delivery is harmless.
func (n *HTTPNet) SendTo(from, to storage.Address, kind network.Kind, payload any) {
	n.mu.RLock()
	h, ok := n.local[to]
	n.mu.RUnlock()

	if ok {
		h.Deliver(network.Envelope{From: from, Kind: kind, Payload: mustEncode(payload)})
		return
	}

	for _, p := range n.peers.Copy("") {
		go n.post(p.Host, kind, payload)
	}
}

// IngestLocal hands a message that arrived over the wire to every
// participant registered in this process, as if it had been broadcast
// locally. The node's gossip HTTP handlers feed received payloads in
// through here; nothing is re-posted to peers, so gossip cannot loop.
func (n *HTTPNet) IngestLocal(from storage.Address, kind network.Kind, payload json.RawMessage) {
	n.mu.RLock()
	targets := make([]network.Handle, 0, len(n.local))
	for _, h := range n.local {
		targets = append(targets, h)
	}
	n.mu.RUnlock()

	for _, h := range targets {
		h.Deliver(network.Envelope{From: from, Kind: kind, Payload: payload})
	}
}

func mustEncode(payload any) json.RawMessage {
	raw, err := network.Encode(payload)
	if err != nil {
		return json.RawMessage("null")
	}

	return raw
}

// post delivers one message to a peer host, retrying with exponential
// backoff for up to 10 seconds. If that time runs out it reports the
// failure through the event handler and gives up on this message; the
// peer stays in the peer set and the failure is not fatal.
func (n *HTTPNet) post(host string, kind network.Kind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.evHandler("httpnet: post: marshal: %s", err)
		return
	}

	url := fmt.Sprintf("http://%s%s", host, pathFor(kind))

	op := func() error {
		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("peer %s returned %d", host, resp.StatusCode)
		}

		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(op, b); err != nil {
		n.evHandler("httpnet: post: giving up on peer %s: %s", host, err)
	}
}

func pathFor(kind network.Kind) string {
	switch kind {
	case network.PostTransaction:
		return "/v1/tx"
	case network.ProofFound:
		return "/v1/proof"
	case network.MissingBlock:
		return "/v1/missing-block"
	default:
		return "/v1/unknown"
	}
}

// Peers exposes the known peer set for handlers that need to answer
// status queries or let a new peer register itself.
func (n *HTTPNet) Peers() *peer.PeerSet {
	return n.peers
}

// Advertise registers this node's mDNS service so other nodes on the
// LAN can discover it without a pre-shared peer list.
func Advertise(instance string, port int) (*zeroconf.Server, error) {
	return zeroconf.Register(instance, mdnsService, "local.", port, nil, nil)
}

// Discover browses the LAN for other chainforge nodes for d and adds
// every host it finds to peers, until ctx is cancelled.
func Discover(ctx context.Context, peers *peer.PeerSet, d time.Duration) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("creating mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	browseCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	go func() {
		for entry := range entries {
			for _, ip := range entry.AddrIPv4 {
				host := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", entry.Port))
				peers.Add(peer.New(host))
			}
		}
	}()

	return resolver.Browse(browseCtx, mdnsService, "local.", entries)
}
