package genesis_test

import (
	"testing"

	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
)

func TestMakeGenesisBlockCarriesInitialBalances(t *testing.T) {
	cfg := genesis.Default()
	cfg.InitialBalances = map[storage.Address]uint64{
		"alice": 233,
		"bob":   99,
	}

	g := cfg.MakeGenesisBlock()

	if !g.IsGenesis() {
		t.Fatal("expected MakeGenesisBlock to produce a chain-length-0 block")
	}
	if g.Balance("alice") != 233 || g.Balance("bob") != 99 {
		t.Fatalf("initial balances not carried into genesis: %+v", g.Balances)
	}
}

func TestTargetTightensWithMoreLeadingZeroes(t *testing.T) {
	easy := genesis.Default()
	easy.PowLeadingZeroes = 1

	hard := genesis.Default()
	hard.PowLeadingZeroes = 20

	if !hard.Target().Lt(easy.Target()) {
		t.Fatal("more leading zeroes should produce a smaller (harder) target")
	}
}

func TestMakeTransactionKeepsZeroFee(t *testing.T) {
	cfg := genesis.Default()

	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	from := storage.AddressOf(key.PublicKey)

	tx := cfg.MakeTransaction(from, 0, key.PublicKey, []storage.Output{{Amount: 10, Address: "bob"}}, 0, nil)
	if tx.Fee != 0 {
		t.Fatalf("fee = %d, want the caller's explicit 0, not the chain default", tx.Fee)
	}
}

func TestMakeBlockCreditsPreviousReward(t *testing.T) {
	cfg := genesis.Default()
	g := cfg.MakeGenesisBlock()

	b1 := cfg.MakeBlock("miner", g)
	if b1.Balance("miner") != 0 {
		t.Fatalf("genesis has no reward address, miner should start at 0, got %d", b1.Balance("miner"))
	}

	b2 := cfg.MakeBlock("miner", b1)
	if got, want := b2.Balance("miner"), cfg.CoinbaseReward; got != want {
		t.Fatalf("miner balance after one rewarded block = %d, want %d", got, want)
	}
}
