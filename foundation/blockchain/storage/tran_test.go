package storage_test

import (
	"encoding/json"
	"testing"

	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

func newSignedTx(t *testing.T, to storage.Address, amount, fee uint64, nonce uint64) (storage.Transaction, *signerInfo) {
	t.Helper()

	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	from := storage.AddressOf(key.PublicKey)
	tx := storage.New(from, nonce, key.PublicKey, []storage.Output{{Amount: amount, Address: to}}, fee, nil)

	signed, err := tx.Sign(key)
	if err != nil {
		t.Fatalf("signing tx: %s", err)
	}

	return signed, &signerInfo{from: from}
}

type signerInfo struct {
	from storage.Address
}

func TestTransactionTotalOutput(t *testing.T) {
	to := storage.Address("Ym9i") // arbitrary, unvalidated in this test
	tx, _ := newSignedTx(t, to, 40, 1, 0)

	if got, want := tx.TotalOutput(), uint64(41); got != want {
		t.Fatalf("TotalOutput() = %d, want %d", got, want)
	}
}

func TestTransactionValidSignature(t *testing.T) {
	to := storage.Address("Ym9i")
	tx, key := newSignedTx(t, to, 40, 1, 0)

	if !tx.ValidSignature() {
		t.Fatal("expected a freshly signed transaction to have a valid signature")
	}

	if tx.From != key.from {
		t.Fatalf("From = %s, want %s", tx.From, key.from)
	}

	// Tampering with a signed field must invalidate the signature.
	tampered := tx
	tampered.Fee = tx.Fee + 1
	if tampered.ValidSignature() {
		t.Fatal("expected tampering with fee to invalidate the signature")
	}
}

func TestTransactionUnsignedIsInvalid(t *testing.T) {
	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}

	from := storage.AddressOf(key.PublicKey)
	tx := storage.New(from, 0, key.PublicKey, nil, 1, nil)

	if tx.ValidSignature() {
		t.Fatal("expected unsigned transaction to be invalid")
	}
}

func TestTransactionSufficientFunds(t *testing.T) {
	to := storage.Address("Ym9i")
	tx, _ := newSignedTx(t, to, 40, 1, 0)

	if tx.SufficientFunds(40) {
		t.Fatal("expected 40 to be insufficient for a total output of 41")
	}
	if !tx.SufficientFunds(41) {
		t.Fatal("expected 41 to be sufficient for a total output of 41")
	}
	if !tx.SufficientFunds(1000) {
		t.Fatal("expected sufficient funds to be monotone in balance")
	}
}

func TestTransactionIDStableAcrossRoundTrip(t *testing.T) {
	to := storage.Address("Ym9i")
	tx, _ := newSignedTx(t, to, 40, 1, 3)

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	var decoded storage.Transaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}

	id1 := tx.ID()
	id2 := decoded.ID()
	if id1 != id2 {
		t.Fatalf("ID() is not stable: %s != %s", id1, id2)
	}
}
