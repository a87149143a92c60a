// Package simulator is an in-process Network for tests and
// single-process demos: every registered participant's Deliver is
// called directly (on its own goroutine, after an optional simulated
// delay) rather than over a real transport.
package simulator

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

// Simulator is a network.Network that delivers in-process. It can be
// parameterised with a delivery failure probability and a uniform
// random delay window.
type Simulator struct {
	mu       sync.RWMutex
	handles  map[storage.Address]network.Handle
	wg       sync.WaitGroup
	failProb float64
	delayMax time.Duration
}

// New constructs a reliable, zero-delay Simulator.
func New() *Simulator {
	return &Simulator{
		handles: make(map[storage.Address]network.Handle),
	}
}

// NewFlaky constructs a Simulator that drops a fraction failProb of
// deliveries and delays each surviving delivery by a uniform random
// duration in [0, delayMax).
func NewFlaky(failProb float64, delayMax time.Duration) *Simulator {
	return &Simulator{
		handles:  make(map[storage.Address]network.Handle),
		failProb: failProb,
		delayMax: delayMax,
	}
}

// Register announces h by its address.
func (s *Simulator) Register(h network.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handles[h.Address()] = h
}

// Recognises reports whether addr is registered.
func (s *Simulator) Recognises(addr storage.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.handles[addr]
	return ok
}

// Broadcast delivers payload to every registered handle except from.
func (s *Simulator) Broadcast(from storage.Address, kind network.Kind, payload any) {
	raw, err := network.Encode(payload)
	if err != nil {
		return
	}

	s.mu.RLock()
	targets := make([]network.Handle, 0, len(s.handles))
	for addr, h := range s.handles {
		if addr == from {
			continue
		}
		targets = append(targets, h)
	}
	s.mu.RUnlock()

	for _, h := range targets {
		s.deliverAsync(h, network.Envelope{From: from, Kind: kind, Payload: raw})
	}
}

// SendTo delivers payload to exactly the handle registered at to.
func (s *Simulator) SendTo(from, to storage.Address, kind network.Kind, payload any) {
	raw, err := network.Encode(payload)
	if err != nil {
		return
	}

	s.mu.RLock()
	h, ok := s.handles[to]
	s.mu.RUnlock()
	if !ok {
		return
	}

	s.deliverAsync(h, network.Envelope{From: from, Kind: kind, Payload: raw})
}

// deliverAsync applies the simulated failure/delay policy and then calls
// h.Deliver on its own goroutine, so a slow or misbehaving participant
// cannot stall the sender. Wait is exposed for tests that need every
// in-flight delivery to settle before asserting on state.
func (s *Simulator) deliverAsync(h network.Handle, env network.Envelope) {
	if s.failProb > 0 && rand.Float64() < s.failProb {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.delayMax > 0 {
			time.Sleep(time.Duration(rand.Int64N(int64(s.delayMax))))
		}

		h.Deliver(env)
	}()
}

// Wait blocks until every delivery dispatched so far has been handed to
// its recipient's Deliver method. Intended for deterministic tests.
func (s *Simulator) Wait() {
	s.wg.Wait()
}
