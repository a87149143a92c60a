// Package private maintains the group of handlers for node to node
// access: the gossip receipt endpoints httpnet posts to, plus peer
// registration and status.
package private

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chainforge/node/business/web/errs"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network"
	"github.com/chainforge/node/foundation/blockchain/network/httpnet"
	"github.com/chainforge/node/foundation/blockchain/peer"
	"github.com/chainforge/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	Miner *miner.Miner
	Net   *httpnet.HTTPNet
}

// maxGossipPayload bounds what a peer can make this node buffer in one
// gossip POST.
const maxGossipPayload = 8 << 20

// ingest reads the raw gossip payload and hands it to every participant
// in this process. The payload is NOT re-posted to peers: the sender
// already broadcast it, so re-posting would loop the gossip forever.
func (h Handlers) ingest(ctx context.Context, w http.ResponseWriter, r *http.Request, kind network.Kind) error {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxGossipPayload))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	if len(payload) == 0 {
		return errs.NewTrusted(errors.New("empty gossip payload"), http.StatusBadRequest)
	}

	h.Net.IngestLocal("", kind, payload)

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// GossipTransaction receives a transaction broadcast by a peer node.
func (h Handlers) GossipTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.ingest(ctx, w, r, network.PostTransaction)
}

// GossipProof receives a sealed block announced by a peer node.
func (h Handlers) GossipProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.ingest(ctx, w, r, network.ProofFound)
}

// GossipMissingBlock receives a peer's request for a block it is missing.
func (h Handlers) GossipMissingBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.ingest(ctx, w, r, network.MissingBlock)
}

// SubmitPeer adds a new peer to this node's known peer set so future
// gossip reaches it.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var p struct {
		Host string `json:"host"`
	}
	if err := web.Decode(r, &p); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	if p.Host == "" {
		return errs.NewTrusted(errors.New("missing host"), http.StatusBadRequest)
	}

	if h.Net.Peers().Add(peer.New(p.Host)) {
		h.Log.Infow("adding peer", "traceid", v.TraceID, "host", p.Host)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "added",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest := h.Miner.Chain().LastBlock()

	status := peer.PeerStatus{
		LatestBlockID: latest.ID(),
		ChainLength:   latest.ChainLength,
		KnownPeers:    h.Net.Peers().Copy(""),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// BlocksByNumber returns the serialised blocks between the specified
// from/to chain lengths on the heaviest chain, oldest first, so a
// catching-up peer can replay them in order.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	chain := h.Miner.Chain()
	latest := chain.LastBlock()

	parseParam := func(name string) (uint64, error) {
		s := web.Param(r, name)
		if s == "latest" || s == "" {
			return latest.ChainLength, nil
		}
		return strconv.ParseUint(s, 10, 64)
	}

	from, err := parseParam("from")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := parseParam("to")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	// Walk back from the head to the window, then reverse into oldest-first.
	var window []json.RawMessage
	for b := latest; ; {
		if b.ChainLength <= to && b.ChainLength >= from {
			data, err := b.Serialize()
			if err != nil {
				return err
			}
			window = append(window, data)
		}

		if b.IsGenesis() || b.ChainLength < from {
			break
		}

		parent, ok := chain.Block(b.PrevBlockHash)
		if !ok {
			break
		}
		b = parent
	}

	if len(window) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}

	return web.Respond(ctx, w, window, http.StatusOK)
}
