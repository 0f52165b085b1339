package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	ohloss "github.com/kalepail/ohloss-sub002"
	"github.com/kalepail/ohloss-sub002/chainrpc"
	"github.com/kalepail/ohloss-sub002/chainwatcher"
	"github.com/kalepail/ohloss-sub002/client"
	"github.com/kalepail/ohloss-sub002/gamedb"
	"github.com/kalepail/ohloss-sub002/pipeline"
	"github.com/kalepail/ohloss-sub002/relay"
	"github.com/kalepail/ohloss-sub002/signer"
)

var (
	datadir      = flag.String("datadir", "", "Directory for the session database")
	rpcURL       = flag.String("rpcurl", "", "Node JSON-RPC endpoint")
	relayMode    = flag.String("relaymode", "", "Submission backend: rpc, turnstile or bearer")
	relayURL     = flag.String("relayurl", "", "Gateway endpoint for turnstile/bearer modes")
	relayCred    = flag.String("relaycred", "", "Bearer credential for the bearer mode")
	turnstileTok = flag.String("turnstiletoken", "", "Pre-solved turnstile token")
	bridgeURL    = flag.String("walletbridge", "", "Wallet bridge endpoint; empty uses the test signer")
	walletVendor = flag.String("walletvendor", string(signer.VendorFreighter), "Wallet vendor behind the bridge")
	walletAddr   = flag.String("address", "", "Account address held by the wallet")
	seed         = flag.String("seed", "", "Test signer seed (required without a wallet bridge)")
	ttlMinutes   = flag.Int("ttl", 0, "Invite validity in minutes")
	debug        = flag.Bool("debug", false, "Enable debug logging")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: ohloss [flags] <command> [args]

commands:
  create <session-id> <wager>   sign an invite for a new game
  join <token> <wager>          accept an invite and submit the opening tx
  moved <session-id>            record that the opponent made their move
  finalize <session-id>         submit the finishing tx and record the outcome
  status                        list local sessions
  reconcile                     sync local records with the chain

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ohloss: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	log := newLogger(*debug)

	cfg, err := client.LoadAppConfig(client.ConfigOverrides{
		RPCURL:          *rpcURL,
		RelayMode:       *relayMode,
		RelayURL:        *relayURL,
		RelayCredential: *relayCred,
		WalletBridgeURL: *bridgeURL,
		DataDir:         *datadir,
		AuthTTLMinutes:  *ttlMinutes,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	sgn, addr, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	node, err := chainrpc.New(cfg.RPCURL, log)
	if err != nil {
		return err
	}
	store, err := gamedb.NewBoltStore(cfg.SessionDBPath(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	rly, err := buildRelay(cfg, node, log)
	if err != nil {
		return err
	}

	watcher := chainwatcher.New(log, node)
	pipe := pipeline.New(log, sgn, rly, watcher, store, cfg.NetworkPassphrase)
	gc, err := client.NewGameClient(log, addr, cfg.AuthTTLMinutes, store, pipe, node)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer watcher.Stop()
		return dispatch(gctx, gc, store, cmd, args)
	})
	return g.Wait()
}

func dispatch(ctx context.Context, gc *client.GameClient, store gamedb.Store, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) != 2 {
			return fmt.Errorf("create needs <session-id> <wager>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad session id %q: %w", args[0], err)
		}
		token, err := gc.CreateGame(ctx, id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("invite: %s\n", token)
		return nil

	case "join":
		if len(args) != 2 {
			return fmt.Errorf("join needs <token> <wager>")
		}
		res, err := gc.JoinGame(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printResult(res)
		return nil

	case "moved":
		id, err := sessionArg(args, "moved")
		if err != nil {
			return err
		}
		return gc.MarkOpponentMoved(ctx, id)

	case "finalize":
		id, err := sessionArg(args, "finalize")
		if err != nil {
			return err
		}
		res, err := gc.Finalize(ctx, id)
		if err != nil {
			return err
		}
		printResult(res)
		return nil

	case "status":
		recs, err := store.FetchSessionsByPlayer(ctx, gc.Address())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, r := range recs {
			line := fmt.Sprintf("session %d  %s  wager %s  %s",
				r.ID, r.Role, ohloss.FormatAmount(r.Wager), r.Status)
			if r.Outcome != nil {
				verdict := "lost"
				if r.Outcome.LocalPlayerWon {
					verdict = "won"
				}
				line += fmt.Sprintf("  %s (payout %s)", verdict, ohloss.FormatAmount(r.Outcome.Payout))
			}
			fmt.Println(line)
		}
		return nil

	case "reconcile":
		return gc.Reconcile(ctx)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func sessionArg(args []string, cmd string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s needs <session-id>", cmd)
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad session id %q: %w", args[0], err)
	}
	return id, nil
}

func printResult(res *pipeline.Result) {
	switch res.Status {
	case pipeline.StatusConfirmed:
		fmt.Printf("confirmed: %s\n", res.TxHash)
	case pipeline.StatusTimedOut:
		fmt.Printf("still pending after timeout: %s (run reconcile later)\n", res.TxHash)
	default:
		fmt.Printf("failed: %s\n", res.Failure)
	}
}

func buildSigner(cfg *client.AppConfig) (signer.Signer, string, error) {
	if cfg.WalletBridgeURL != "" {
		if *walletAddr == "" {
			return nil, "", fmt.Errorf("-address is required with a wallet bridge")
		}
		ws, err := signer.NewWalletSigner(cfg.WalletBridgeURL, signer.Vendor(*walletVendor), *walletAddr)
		if err != nil {
			return nil, "", err
		}
		return ws, *walletAddr, nil
	}
	if *seed == "" {
		return nil, "", fmt.Errorf("-seed is required without a wallet bridge")
	}
	ts, err := signer.NewTestSigner(*seed)
	if err != nil {
		return nil, "", err
	}
	return ts, ts.Address(), nil
}

func buildRelay(cfg *client.AppConfig, node *chainrpc.Client, log slog.Logger) (relay.Backend, error) {
	switch cfg.RelayMode {
	case client.RelayModeRPC:
		return relay.NewDirectRPC(node, log)
	case client.RelayModeTurnstile:
		tok := *turnstileTok
		if tok == "" {
			return nil, fmt.Errorf("-turnstiletoken is required in turnstile mode")
		}
		return relay.NewTurnstileRelay(cfg.RelayURL, relay.TokenFunc(func(context.Context) (string, error) {
			return tok, nil
		}), log)
	case client.RelayModeBearer:
		return relay.NewAuthRelay(cfg.RelayURL, cfg.RelayCredential, log)
	default:
		return nil, fmt.Errorf("unknown relay mode %q", cfg.RelayMode)
	}
}

func newLogger(debug bool) slog.Logger {
	backend := slog.NewBackend(os.Stdout)
	log := backend.Logger("OHLS")
	if debug {
		log.SetLevel(slog.LevelDebug)
	} else {
		log.SetLevel(slog.LevelInfo)
	}
	return log
}
