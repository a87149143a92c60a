// Package public maintains the group of handlers for public access:
// wallets submitting transactions, and viewers reading balances, blocks,
// and the live event stream.
package public

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chainforge/node/business/web/errs"
	"github.com/chainforge/node/business/web/validate"
	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/network/httpnet"
	"github.com/chainforge/node/foundation/blockchain/storage"
	"github.com/chainforge/node/foundation/events"
	"github.com/chainforge/node/foundation/nameservice"
	"github.com/chainforge/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	Miner *miner.Miner
	Net   *httpnet.HTTPNet
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction accepts a signed transaction from a wallet and
// gossips it to the network.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var st submitTx
	if err := web.Decode(r, &st); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(st); err != nil {
		return err
	}

	signedTx := st.toTransaction()

	// Vet the transaction against the miner's block under construction so
	// a wallet hears immediately about a bad signature, an overdraft, or
	// a spent nonce. An out-of-order nonce is fine: it will be held until
	// the gap fills.
	if err := h.Miner.CurrentBlock().CheckTransaction(signedTx); err != nil && !errors.Is(err, database.ErrOutOfOrderNonce) {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add wallet tran", "traceid", v.TraceID, "tx", signedTx.ID(), "from", signedTx.From, "nonce", signedTx.Nonce, "fee", signedTx.Fee)

	// The node itself is the broadcast origin, so every local participant
	// (including a miner whose address matches the sender) hears it, and
	// every known peer gets a copy over the wire.
	h.Net.Broadcast("", network.PostTransaction, signedTx)

	resp := struct {
		Status string `json:"status"`
		TxID   string `json:"tx_id"`
	}{
		Status: "transaction gossiped",
		TxID:   signedTx.ID(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the chain parameters this node was started with.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Miner.Config(), http.StatusOK)
}

// Accounts returns the confirmed balances, either for every account the
// confirmed block knows or for the single account in the URL.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	confirmed := h.Miner.Chain().LastConfirmedBlock()

	var accounts []info
	switch acct := web.Param(r, "account"); acct {
	case "":
		for addr, balance := range confirmed.Balances {
			accounts = append(accounts, info{
				Account:   string(addr),
				Name:      h.NS.Lookup(addr),
				Balance:   balance,
				NextNonce: confirmed.NextNonceFor(addr),
			})
		}

	default:
		addr, err := storage.ToAddress(acct)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		accounts = append(accounts, info{
			Account:   string(addr),
			Name:      h.NS.Lookup(addr),
			Balance:   confirmed.Balance(addr),
			NextNonce: confirmed.NextNonceFor(addr),
		})
	}

	ai := actInfo{
		LatestBlock: confirmed.ID(),
		ChainLength: confirmed.ChainLength,
		Accounts:    accounts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// Blocks returns the whole chain from the head backwards to genesis.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	chain := h.Miner.Chain()

	var blocks []block
	for b := chain.LastBlock(); ; {
		blocks = append(blocks, toBlockView(b, h.NS))
		if b.IsGenesis() {
			break
		}

		parent, ok := chain.Block(b.PrevBlockHash)
		if !ok {
			break
		}
		b = parent
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// PendingTransactions returns the transactions sitting in this miner's
// block under construction.
func (h Handlers) PendingTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	current := h.Miner.CurrentBlock()

	txs := make([]tx, 0, len(current.Transactions()))
	for _, t := range current.Transactions() {
		txs = append(txs, toTxView(t, h.NS))
	}

	return web.Respond(ctx, w, txs, http.StatusOK)
}
