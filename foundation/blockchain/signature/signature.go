// Package signature provides helper functions for handling the chainforge
// signature needs: key generation, canonical hashing, signing, and
// verification of transactions and blocks.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of all zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// forgeID is an arbitrary number folded into the recovery id of every
// signature so it is unambiguous that a signature was produced for
// chainforge and not some other ECDSA-based protocol.
const forgeID = 37

// =============================================================================

// Hash returns a hex encoded SHA-256 digest of the JSON representation
// of value. This is used for block and transaction ids.
func Hash(value any) string {
	hash := RawHash(value)
	return hexutil.Encode(hash[:])
}

// RawHash returns the raw 32 byte SHA-256 digest of the JSON representation
// of value, for callers that need the bytes rather than the hex string
// (such as the proof-of-work big-integer comparison).
func RawHash(value any) [32]byte {
	data, err := json.Marshal(value)
	if err != nil {
		return [32]byte{}
	}

	return sha256.Sum256(data)
}

// GenerateKey creates a new ECDSA key pair suitable for signing
// transactions and blocks.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// AddressOf derives the account address from a public key: the base64
// encoding of SHA-256 over the public key's uncompressed serialisation.
func AddressOf(pub ecdsa.PublicKey) string {
	serialized := crypto.FromECDSAPub(&pub)
	digest := sha256.Sum256(serialized)
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Sign uses the specified private key to sign the data.
func Sign(value any, privateKey *ecdsa.PrivateKey) (v, r, s *big.Int, err error) {

	// Prepare the data for signing.
	data, err := stamp(value)
	if err != nil {
		return nil, nil, nil, err
	}

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, nil, nil, err
	}

	// Extract the public key from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, nil, nil, err
	}

	// Check the public key extracted from the data and signature.
	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return nil, nil, nil, errors.New("invalid signature")
	}

	// Convert the 65 byte signature into the [R|S|V] format.
	v, r, s = toSignatureValues(sig)

	return v, r, s, nil
}

// VerifySignature verifies the signature conforms to chainforge's standards
// and is associated with the data claimed to be signed.
func VerifySignature(value any, v, r, s *big.Int) error {
	if v == nil || r == nil || s == nil {
		return errors.New("signature missing")
	}

	// Check the recovery id is either 0 or 1.
	uintV := v.Uint64() - forgeID
	if uintV != 0 && uintV != 1 {
		return errors.New("invalid recovery id")
	}

	// Check the signature values are valid.
	if !crypto.ValidateSignatureValues(byte(uintV), r, s, false) {
		return errors.New("invalid signature values")
	}

	data, err := stamp(value)
	if err != nil {
		return err
	}

	sig := ToSignatureBytes(v, r, s)
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return err
	}

	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, sig[:crypto.RecoveryIDOffset]) {
		return errors.New("signature does not verify")
	}

	return nil
}

// FromAddress extracts the address for the account that signed the data.
func FromAddress(value any, v, r, s *big.Int) (string, error) {

	// NOTE: If the same exact data for the given signature is not provided
	// we will get the wrong from address for this transaction. The public
	// key used is extracted from the data and signature, there is no
	// separate copy to check against.

	data, err := stamp(value)
	if err != nil {
		return "", err
	}

	sig := ToSignatureBytes(v, r, s)

	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	return AddressOf(*publicKey), nil
}

// SignatureString returns the signature as a string.
func SignatureString(v, r, s *big.Int) string {
	return hexutil.Encode(ToSignatureBytesWithForgeID(v, r, s))
}

// ToVRSFromHexSignature converts a hex representation of the signature into
// its R, S and V parts.
func ToVRSFromHexSignature(sigStr string) (v, r, s *big.Int, err error) {
	sig, err := hex.DecodeString(sigStr[2:])
	if err != nil {
		return nil, nil, nil, err
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64]})

	return v, r, s, nil
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents the data with the
// chainforge domain separator embedded into the final hash, so a
// signature produced here cannot be replayed against an unrelated
// ECDSA-signing protocol that happens to hash the same payload.
func stamp(value any) ([]byte, error) {

	// Marshal the data.
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	// Hash the data into a 32 byte array. This provides a consistent
	// input length regardless of the shape of value.
	txHash := crypto.Keccak256(v)

	// The stamp makes signatures produced here unique to chainforge.
	stamp := []byte("\x19chainforge Signed Message:\n32")

	data := crypto.Keccak256(stamp, txHash)

	return data, nil
}

// toSignatureValues converts the signature into the r, s, v values.
func toSignatureValues(sig []byte) (v, r, s *big.Int) {
	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = new(big.Int).SetBytes([]byte{sig[64] + forgeID})

	return v, r, s
}

// ToSignatureBytes converts the r, s, v values into a slice of bytes
// with the removal of the forgeID.
func ToSignatureBytes(v, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)

	rBytes := r.Bytes()
	if len(rBytes) == 31 {
		copy(sig[1:], rBytes)
	} else {
		copy(sig, rBytes)
	}

	sBytes := s.Bytes()
	if len(sBytes) == 31 {
		copy(sig[33:], sBytes)
	} else {
		copy(sig[32:], sBytes)
	}

	sig[64] = byte(v.Uint64() - forgeID)

	return sig
}

// ToSignatureBytesWithForgeID converts the r, s, v values into a slice of
// bytes keeping the forgeID in place, for wire display.
func ToSignatureBytesWithForgeID(v, r, s *big.Int) []byte {
	sig := ToSignatureBytes(v, r, s)
	sig[64] = byte(v.Uint64())

	return sig
}
