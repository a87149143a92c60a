package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/chainforge/node/app/services/node/handlers"
	"github.com/chainforge/node/foundation/blockchain/archive"
	"github.com/chainforge/node/foundation/blockchain/database"
	"github.com/chainforge/node/foundation/blockchain/genesis"
	"github.com/chainforge/node/foundation/blockchain/miner"
	"github.com/chainforge/node/foundation/blockchain/network/httpnet"
	"github.com/chainforge/node/foundation/blockchain/participant"
	"github.com/chainforge/node/foundation/events"
	"github.com/chainforge/node/foundation/logger"
	"github.com/chainforge/node/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			MinerName      string        `conf:"default:miner1"`
			AccountsFolder string        `conf:"default:zblock/accounts/"`
			GenesisFile    string        `conf:"default:zblock/genesis.json"`
			ArchivePath    string        `conf:"default:zblock/blocks.db"`
			MiningRounds   uint64        `conf:"default:2000"`
			KnownPeers     []string      `conf:"default:0.0.0.0:9180"`
			Discover       bool          `conf:"default:false"`
			DiscoverWindow time.Duration `conf:"default:10s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "chainforge node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the accounts folder.
	ns, err := nameservice.New(cfg.Node.AccountsFolder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", account)
	}

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the configured miner so the
	// account can get credited with coinbase rewards and fees.
	path := fmt.Sprintf("%s%s.ecdsa", cfg.Node.AccountsFolder, cfg.Node.MinerName)
	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	// The genesis file pins the chain parameters every node on this network
	// must agree on: the PoW target, rewards, confirmation depth, and the
	// starting balances. Two nodes with different genesis files are on
	// different chains.
	gen, err := genesis.Load(cfg.Node.GenesisFile)
	if err != nil {
		return fmt.Errorf("unable to load genesis file: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow
	// the application to log. These raw messages are also sent to any
	// websocket client connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The network value gossips transactions and blocks to the known peers
	// over HTTP and dispatches inbound messages to the participants
	// registered in this process.
	net := httpnet.New(cfg.Node.KnownPeers, ev)

	// Construct this node's participant and wrap it in a miner. The miner
	// registers itself with the network so gossip reaches it.
	client := participant.New(privateKey, gen, net, gen.MakeGenesisBlock(), ev)
	mnr := miner.New(client, cfg.Node.MiningRounds, ev)

	log.Infow("startup", "status", "miner constructed", "account", client.Address())

	// =========================================================================
	// Block Archive Support

	// Every sealed block observed on the wire is appended to the archive, and
	// the archive is replayed on startup so a restarted node does not need to
	// pull the whole chain from its peers block by block.
	arc, err := archive.New(cfg.Node.ArchivePath, gen, ev)
	if err != nil {
		return fmt.Errorf("unable to open block archive: %w", err)
	}
	defer arc.Close()

	replayed := 0
	if err := arc.Replay(func(b database.Block) {
		mnr.ReceiveBlock(b)
		replayed++
	}); err != nil {
		return fmt.Errorf("unable to replay block archive: %w", err)
	}
	log.Infow("startup", "status", "archive replayed", "blocks", replayed, "head", mnr.Chain().LastBlock().ChainLength)

	net.Register(archive.NewListener(arc))

	// =========================================================================
	// Peer Discovery Support

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Node.Discover {
		_, port, found := strings.Cut(cfg.Web.PrivateHost, ":")
		if !found {
			return fmt.Errorf("private host %q has no port for mdns", cfg.Web.PrivateHost)
		}
		var portNum int
		if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
			return fmt.Errorf("private host port %q: %w", port, err)
		}

		server, err := httpnet.Advertise(cfg.Node.MinerName, portNum)
		if err != nil {
			return fmt.Errorf("unable to advertise on mdns: %w", err)
		}
		defer server.Shutdown()

		go func() {
			if err := httpnet.Discover(ctx, net.Peers(), cfg.Node.DiscoverWindow); err != nil {
				log.Infow("startup", "status", "mdns discovery stopped", "ERROR", err)
			}
		}()
	}

	// =========================================================================
	// Start Mining

	// The miner runs its own event loop: it drains start-mining signals and
	// performs bounded batches of proof attempts so inbound gossip is never
	// starved.
	go mnr.Run(ctx)

	// Rebroadcast anything this node still considers pending. Pending
	// transactions are held in memory only, so nothing signed on a
	// previous run is included.
	client.ResendPendingTransactions()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the
	// debug related endpoints. This includes the standard library endpoints.
	debugMux := handlers.DebugMux(build, log)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	muxConfig := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Miner:    mnr,
		Net:      net,
		NS:       ns,
		Evts:     evts,
	}

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxConfig),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxConfig),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Stop the mining loop.
		cancel()

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
