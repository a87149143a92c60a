package signature_test

import (
	"testing"

	"github.com/chainforge/node/foundation/blockchain/signature"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.VerifySignature(value, v, r, s); err != nil {
		t.Fatalf("Should be able to verify the signature: %s", err)
	}

	addr, err := signature.FromAddress(value, v, r, s)
	if err != nil {
		t.Fatalf("Should be able to generate from address: %s", err)
	}

	if addr != signature.AddressOf(pk.PublicKey) {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", signature.AddressOf(pk.PublicKey))
		t.Fatalf("Should get back the signer's own address.")
	}
}

func Test_TamperedValueFailsVerification(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	tampered := struct {
		Name string
	}{
		Name: "Jill",
	}

	if err := signature.VerifySignature(tampered, v, r, s); err == nil {
		t.Fatalf("Should not verify against a tampered value.")
	}
}

func Test_Hash(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	h1 := signature.Hash(value)
	h2 := signature.Hash(value)

	if h1 != h2 {
		t.Fatalf("Should get back the same hash twice: %s != %s", h1, h2)
	}

	if h1 == signature.ZeroHash {
		t.Fatalf("Hash should not be the zero hash.")
	}
}

func Test_SignConsistency(t *testing.T) {
	value1 := struct {
		Name string
	}{
		Name: "Bill",
	}
	value2 := struct {
		Name string
	}{
		Name: "Jill",
	}

	pk, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v1, r1, s1, err := signature.Sign(value1, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	addr1, err := signature.FromAddress(value1, v1, r1, s1)
	if err != nil {
		t.Fatalf("Should be able to generate an address: %s", err)
	}

	v2, r2, s2, err := signature.Sign(value2, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	addr2, err := signature.FromAddress(value2, v2, r2, s2)
	if err != nil {
		t.Fatalf("Should be able to generate an address: %s", err)
	}

	if addr1 != addr2 {
		t.Errorf("Got: %s", addr1)
		t.Errorf("Got: %s", addr2)
		t.Fatalf("Should have the same address for the same signer.")
	}
}

func Test_AddressOfIsDeterministic(t *testing.T) {
	pk, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	a1 := signature.AddressOf(pk.PublicKey)
	a2 := signature.AddressOf(pk.PublicKey)

	if a1 != a2 {
		t.Fatalf("AddressOf should be deterministic for the same public key.")
	}
}
