package public

import (
	"math/big"
	"time"

	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/signature"
	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/chainforge/node/foundation/nameservice"
)

// output is a single payment inside a transaction view.
type output struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// tx is the view of a transaction returned by the public API.
type tx struct {
	From     string         `json:"from"`
	FromName string         `json:"from_name"`
	Nonce    uint64         `json:"nonce"`
	Outputs  []output       `json:"outputs"`
	Fee      uint64         `json:"fee"`
	Data     map[string]any `json:"data"`
	Sig      string         `json:"sig"`
}

// block is the view of a block returned by the public API.
type block struct {
	ChainLength   uint64    `json:"chain_length"`
	Timestamp     time.Time `json:"timestamp"`
	PrevBlockHash string    `json:"prev_block_hash"`
	Proof         uint64    `json:"proof"`
	RewardAddr    string    `json:"reward_addr"`
	RewardName    string    `json:"reward_name"`
	Transactions  []tx      `json:"transactions"`
}

// info is the balance summary for a single account.
type info struct {
	Account   string `json:"account"`
	Name      string `json:"name"`
	Balance   uint64 `json:"balance"`
	NextNonce uint64 `json:"next_nonce"`
}

// actInfo wraps the account list with the chain position it was read at.
type actInfo struct {
	LatestBlock string `json:"latest_block"`
	ChainLength uint64 `json:"chain_length"`
	Accounts    []info `json:"accounts"`
}

// submitOutput is one payment inside a wallet submission.
type submitOutput struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address" validate:"required"`
}

// submitTx is the payload a wallet posts to submit a signed transaction.
type submitTx struct {
	From    string         `json:"from" validate:"required"`
	Nonce   uint64         `json:"nonce"`
	PubKey  string         `json:"pub_key" validate:"required"`
	Outputs []submitOutput `json:"outputs" validate:"required,dive"`
	Fee     uint64         `json:"fee"`
	Data    map[string]any `json:"data"`

	V *big.Int `json:"v" validate:"required"`
	R *big.Int `json:"r" validate:"required"`
	S *big.Int `json:"s" validate:"required"`
}

// toTransaction converts the wallet payload into the core transaction type.
func (st submitTx) toTransaction() storage.Transaction {
	outputs := make([]storage.Output, len(st.Outputs))
	for i, o := range st.Outputs {
		outputs[i] = storage.Output{Amount: o.Amount, Address: storage.Address(o.Address)}
	}

	data := st.Data
	if data == nil {
		data = map[string]any{}
	}

	return storage.Transaction{
		From:    storage.Address(st.From),
		Nonce:   st.Nonce,
		PubKey:  st.PubKey,
		Outputs: outputs,
		Fee:     st.Fee,
		Data:    data,
		V:       st.V,
		R:       st.R,
		S:       st.S,
	}
}

// toTxView converts a core transaction into its API view.
func toTxView(t storage.Transaction, ns *nameservice.NameService) tx {
	outputs := make([]output, len(t.Outputs))
	for i, o := range t.Outputs {
		outputs[i] = output{Amount: o.Amount, Address: string(o.Address)}
	}

	var sig string
	if t.HasSignature() {
		sig = signature.SignatureString(t.V, t.R, t.S)
	}

	return tx{
		From:     string(t.From),
		FromName: ns.Lookup(t.From),
		Nonce:    t.Nonce,
		Outputs:  outputs,
		Fee:      t.Fee,
		Data:     t.Data,
		Sig:      sig,
	}
}

// toBlockView converts a core block into its API view.
func toBlockView(b database.Block, ns *nameservice.NameService) block {
	txs := make([]tx, 0, len(b.Transactions()))
	for _, t := range b.Transactions() {
		txs = append(txs, toTxView(t, ns))
	}

	return block{
		ChainLength:   b.ChainLength,
		Timestamp:     b.Timestamp,
		PrevBlockHash: b.PrevBlockHash,
		Proof:         b.Proof,
		RewardAddr:    string(b.RewardAddr),
		RewardName:    ns.Lookup(b.RewardAddr),
		Transactions:  txs,
	}
}
