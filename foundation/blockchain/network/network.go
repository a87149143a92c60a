// Package network defines the abstract transport collaborator every
// participant talks through: registration, broadcast, and targeted
// send. The core consensus machinery never depends on a concrete
// transport, only on this interface — letting an in-process simulator
// and a real HTTP transport (see network/simulator and
// network/httpnet) stand in for each other without touching
// participant or miner code.
package network

import (
	"encoding/json"

	"github.com/chainforge/node/foundation/blockchain/storage"
)

// Kind names a message kind on the wire.
type Kind string

// The three message kinds the protocol exchanges. A miner's start-mining
// re-arm is a process-local signal, not a message; it never appears on
// any transport.
const (
	PostTransaction Kind = "POST_TRANSACTION"
	ProofFound      Kind = "PROOF_FOUND"
	MissingBlock    Kind = "MISSING_BLOCK"
)

// Envelope is what a Network delivers to a registered Handle. Payload is
// pre-serialised JSON so that, even in the in-process simulator, a
// receiver cannot mutate a sender's live object through aliasing.
type Envelope struct {
	From    storage.Address
	Kind    Kind
	Payload json.RawMessage
}

// MissingBlockRequest is the payload carried by a MissingBlock envelope.
type MissingBlockRequest struct {
	From    storage.Address `json:"from"`
	Missing string          `json:"missing"`
}

// Handle is what a participant registers with a Network so it can
// receive deliveries. Deliver must not block for long: a slow handler
// stalls the network's dispatch loop (the simulator) or an HTTP
// handler's response (httpnet).
type Handle interface {
	Address() storage.Address
	Deliver(Envelope)
}

// Network is the transport collaborator every participant talks through.
type Network interface {
	// Register announces a participant by its address so it can receive
	// broadcasts and targeted sends.
	Register(h Handle)

	// Broadcast delivers payload, tagged with kind, to every registered
	// participant except from.
	Broadcast(from storage.Address, kind Kind, payload any)

	// SendTo delivers payload, tagged with kind, to the participant at
	// to. The simulator drops a send to an unregistered address; httpnet
	// posts one to every known peer, since an address carries no route.
	SendTo(from, to storage.Address, kind Kind, payload any)

	// Recognises reports whether addr is a registered participant.
	Recognises(addr storage.Address) bool
}

// Encode is a helper for Network implementations: it serialises payload
// for inclusion in an Envelope.
func Encode(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}

// Decode unmarshals an Envelope's Payload into out.
func Decode(payload json.RawMessage, out any) error {
	return json.Unmarshal(payload, out)
}
