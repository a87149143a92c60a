// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/chainforge/node/app/services/node/handlers/v1/private"
	"github.com/chainforge/node/app/services/node/handlers/v1/public"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network/httpnet"
	"github.com/chainforge/node/foundation/events"
	"github.com/chainforge/node/foundation/nameservice"
	"github.com/chainforge/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	Miner *miner.Miner
	Net   *httpnet.HTTPNet
	NS    *nameservice.NameService
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		Miner: cfg.Miner,
		Net:   cfg.Net,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/blocks/list", pbl.Blocks)
	app.Handle(http.MethodGet, version, "/tx/pending/list", pbl.PendingTransactions)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		Miner: cfg.Miner,
		Net:   cfg.Net,
	}

	app.Handle(http.MethodPost, version, "/tx", prv.GossipTransaction)
	app.Handle(http.MethodPost, version, "/proof", prv.GossipProof)
	app.Handle(http.MethodPost, version, "/missing-block", prv.GossipMissingBlock)
	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
}
