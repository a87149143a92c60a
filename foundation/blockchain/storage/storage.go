// Package storage provides the core value types shared across the
// blockchain: account addresses and the outputs a transaction pays to.
package storage

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"

	"github.com/chainforge/node/foundation/blockchain/signature"
)

// Address identifies an account. It is the base64 encoding of the
// SHA-256 digest of the account's serialised public key.
type Address string

// AddressOf derives the Address that corresponds to the given public key.
func AddressOf(pub ecdsa.PublicKey) Address {
	return Address(signature.AddressOf(pub))
}

// ToAddress validates that s is a well formed Address and returns it.
func ToAddress(s string) (Address, error) {
	a := Address(s)
	if !a.IsValid() {
		return "", errors.New("invalid address format")
	}

	return a, nil
}

// IsValid reports whether a decodes as standard base64 of the right length
// to plausibly be the output of AddressOf. It cannot confirm that some
// public key actually hashes to this value.
func (a Address) IsValid() bool {
	if a == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return false
	}

	return len(decoded) == 32
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// =============================================================================

// Output represents a single payment inside a transaction: an amount sent
// to an address.
type Output struct {
	Amount  uint64  `json:"amount"`
	Address Address `json:"address"`
}
