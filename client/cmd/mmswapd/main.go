// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"decred.org/mmswap/client/app"
	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/client/db"
	"decred.org/mmswap/client/mesh"
	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/client/rpcserver"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/version"
)

// appName defines the application name.
const appName = "mmswapd"

var (
	appCtx, cancel = context.WithCancel(context.Background())
	log            dex.Logger
)

func main() {
	// Wrap the actual main so defers run in it.
	cfg, err := configure()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := runCore(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func runCore(cfg *app.Config) error {
	defer cancel() // for the earliest returns

	// Initialize logging.
	logMaker, closeLogger, err := app.InitLogging(&cfg.LogConfig)
	if err != nil {
		return err
	}
	defer closeLogger()
	log = logMaker.Logger("MMSW")
	log.Infof("%s version %v (Go version %s)", appName, version.Parse(app.Version), runtime.Version())
	if !cfg.LocalLogs {
		log.Infof("Logging with UTC time stamps. Current local time is %v",
			time.Now().Local().Format("15:04:05 MST"))
	}

	defer func() {
		if pv := recover(); pv != nil {
			log.Criticalf("Uh-oh! \n\nPanic:\n\n%v\n\nStack:\n\n%v\n\n",
				pv, string(debug.Stack()))
		}
	}()

	nodeKey, err := app.LoadNodeKey(cfg.NodeKey)
	if err != nil {
		return err
	}
	hub := mesh.NewHub(logMaker.Logger(app.MeshLoggerName))
	node, err := hub.NewNode(&mesh.NodeConfig{
		PrivateKey: nodeKey,
		IsRelay:    !cfg.NoRelay,
	})
	if err != nil {
		return fmt.Errorf("error creating mesh node: %w", err)
	}

	swapLog, err := db.New(&db.Config{
		Dir:    filepath.Join(cfg.DBDir, "swaplog"),
		Logger: logMaker.Logger(app.DBLoggerName),
	})
	if err != nil {
		return fmt.Errorf("error opening swap log: %w", err)
	}

	// The wallets report balances only once connected, and they are connected
	// after the engine is created.
	var engine *ordermatch.Engine
	onBalance := func(ticker string, bal *big.Rat) {
		engine.BalanceUpdated(ticker, bal)
	}
	wallets, err := cfg.Wallets(logMaker, onBalance)
	if err != nil {
		return err
	}
	coins := make([]asset.Coin, 0, len(wallets))
	enabled := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		coins = append(coins, w)
		enabled[w.Ticker()] = true
	}
	if len(coins) == 0 {
		log.Warnf("No wallets configured. Orders cannot be placed or matched.")
	}

	engine, err = ordermatch.New(&ordermatch.Config{
		Gossip: node,
		Coins:  coins,
		Swaps:  swapLog,
		DBDir:  cfg.DBDir,
		Logger: logMaker.Logger(app.EngineLoggerName),
	})
	if err != nil {
		return fmt.Errorf("error creating order-matching engine: %w", err)
	}
	log.Infof("Node pubkey: %s", engine.Pubkey())

	orderCoins, err := engine.KickStart()
	if err != nil {
		return fmt.Errorf("error loading saved orders: %w", err)
	}
	for ticker := range orderCoins {
		if !enabled[ticker] {
			log.Warnf("Saved orders trade %s, which has no wallet", ticker)
		}
	}

	// Catch interrupt signal (e.g. ctrl+c).
	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, os.Interrupt)
	go func() {
		<-killChan
		log.Infof("Shutting down...")
		cancel()
	}()

	var cms []*dex.ConnectionMaster
	connect := func(ctx context.Context, name string, c dex.Connector) error {
		cm := dex.NewConnectionMaster(c)
		if err := cm.ConnectOnce(ctx); err != nil {
			return fmt.Errorf("error connecting %s: %w", name, err)
		}
		cms = append(cms, cm)
		return nil
	}

	// The swap log outlives the engine, which records swaps until Run returns.
	dbCtx, dbCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		log.Info("Exiting mmswapd main.")
		cancel()
		wg.Wait()
		dbCancel()
		for _, cm := range cms {
			<-cm.Done()
		}
	}()

	if err := connect(dbCtx, "swap log", swapLog); err != nil {
		return err
	}
	if err := connect(appCtx, "mesh node", node); err != nil {
		return err
	}
	for _, w := range wallets {
		if err := connect(appCtx, w.Ticker()+" wallet", w); err != nil {
			return err
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(appCtx); err != nil {
			log.Errorf("Order-matching engine error: %v", err)
		}
		cancel() // in the event that Run returns prematurely prior to context cancellation
	}()

	rpcSrv, err := rpcserver.New(cfg.RPC(engine, logMaker.Logger(app.RPCLoggerName)))
	if err != nil {
		return fmt.Errorf("failed to create rpc server: %w", err)
	}
	if err := connect(appCtx, "rpc server", rpcSrv); err != nil {
		return err
	}
	log.Infof("RPC server listening on %s", rpcSrv.Addr())

	<-appCtx.Done()
	return nil
}
