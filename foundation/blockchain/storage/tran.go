package storage

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transaction is a signed transfer from a single account to one or more
// recipients. It is immutable once Sign has been called.
type Transaction struct {
	From    Address        `json:"from"`
	Nonce   uint64         `json:"nonce"`
	PubKey  string         `json:"pub_key"` // hex encoded, uncompressed
	Outputs []Output       `json:"outputs"`
	Fee     uint64         `json:"fee"`
	Data    map[string]any `json:"data"`

	V *big.Int `json:"v,omitempty"`
	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
}

// New constructs an unsigned Transaction. Call Sign before broadcasting it.
func New(from Address, nonce uint64, pubKey ecdsa.PublicKey, outputs []Output, fee uint64, data map[string]any) Transaction {
	if data == nil {
		data = map[string]any{}
	}

	return Transaction{
		From:    from,
		Nonce:   nonce,
		PubKey:  hex.EncodeToString(crypto.FromECDSAPub(&pubKey)),
		Outputs: outputs,
		Fee:     fee,
		Data:    data,
	}
}

// signPayload is the canonical set of fields that are signed and that
// participate in the transaction id.
type signPayload struct {
	From    Address        `json:"from"`
	Nonce   uint64         `json:"nonce"`
	PubKey  string         `json:"pub_key"`
	Outputs []Output       `json:"outputs"`
	Fee     uint64         `json:"fee"`
	Data    map[string]any `json:"data"`
}

func (tx Transaction) payload() signPayload {
	return signPayload{tx.From, tx.Nonce, tx.PubKey, tx.Outputs, tx.Fee, tx.Data}
}

// idStamp domain separates the transaction id hash from the signature hash;
// the two must not collide even though they cover the same fields.
type idStamp struct {
	Domain  string      `json:"domain"`
	Payload signPayload `json:"payload"`
}

// ID returns the transaction's content-addressed id. It is recomputed from
// the canonical field set every time rather than cached, since Transaction
// is a plain value type with no private state to keep in sync.
func (tx Transaction) ID() string {
	return signature.Hash(idStamp{Domain: "chainforge.tx", Payload: tx.payload()})
}

// Sign produces the signature over the transaction's canonical fields using
// privateKey, which must correspond to the public key embedded in PubKey.
func (tx Transaction) Sign(privateKey *ecdsa.PrivateKey) (Transaction, error) {
	v, r, s, err := signature.Sign(tx.payload(), privateKey)
	if err != nil {
		return Transaction{}, err
	}

	tx.V, tx.R, tx.S = v, r, s
	return tx, nil
}

// HasSignature reports whether Sign has populated the signature fields.
func (tx Transaction) HasSignature() bool {
	return tx.V != nil && tx.R != nil && tx.S != nil
}

// ValidSignature reports whether the transaction's signature is present,
// was produced by the key embedded in PubKey, and covers the From address.
func (tx Transaction) ValidSignature() bool {
	if !tx.HasSignature() {
		return false
	}

	pubKeyBytes, err := hex.DecodeString(tx.PubKey)
	if err != nil {
		return false
	}

	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return false
	}

	if AddressOf(*pubKey) != tx.From {
		return false
	}

	from, err := signature.FromAddress(tx.payload(), tx.V, tx.R, tx.S)
	if err != nil || Address(from) != tx.From {
		return false
	}

	return signature.VerifySignature(tx.payload(), tx.V, tx.R, tx.S) == nil
}

// TotalOutput is the fee plus the sum of every output's amount: the total
// amount debited from From when the transaction is applied.
func (tx Transaction) TotalOutput() uint64 {
	total := tx.Fee
	for _, out := range tx.Outputs {
		total += out.Amount
	}

	return total
}

// SufficientFunds reports whether From's balance covers TotalOutput.
func (tx Transaction) SufficientFunds(balance uint64) bool {
	return tx.TotalOutput() <= balance
}

// PublicKey reconstructs the *ecdsa.PublicKey carried in PubKey.
func (tx Transaction) PublicKey() (*ecdsa.PublicKey, error) {
	pubKeyBytes, err := hex.DecodeString(tx.PubKey)
	if err != nil {
		return nil, errors.New("malformed public key")
	}

	return crypto.UnmarshalPubkey(pubKeyBytes)
}
