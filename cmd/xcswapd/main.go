// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// xcswapd runs a resolver-side swap coordinator over two chain endpoints.
// Chain access goes through the swap/ledger.Ledger interface; the built-in
// simnet ledgers back development and integration testing, and external
// chain drivers plug in through the same boundary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xcswap/xcswap/swap/coordinator"
	"github.com/xcswap/xcswap/swap/db/bolt"
	"github.com/xcswap/xcswap/swap/factory"
	"github.com/xcswap/xcswap/swap/ledger"
)

// Simnet deployment identities. These stand in for the on-chain factory and
// implementation contracts until external chain drivers land.
var (
	simnetSrcFactory = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	simnetDstFactory = common.HexToAddress("0x00000000000000000000000000000000000f0002")
	simnetSrcImplA   = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	simnetSrcImplB   = common.HexToAddress("0x00000000000000000000000000000000000e0002")
	simnetDstImplA   = common.HexToAddress("0x00000000000000000000000000000000000e0003")
	simnetDstImplB   = common.HexToAddress("0x00000000000000000000000000000000000e0004")
)

func newLeg(cfg *daemonConf, ldgr ledger.Ledger, factoryAddr, implA, implB common.Address) (*coordinator.Leg, error) {
	f, err := factory.New(&factory.Config{
		Ledger:                    ldgr,
		Address:                   factoryAddr,
		SourceImplementation:      implA,
		DestinationImplementation: implB,
		RescueDelay:               cfg.RescueDelay,
		Tolerance:                 cfg.Tolerance,
		AuthorizedCreators:        cfg.Creators,
	})
	if err != nil {
		return nil, err
	}
	return &coordinator.Leg{Factory: f, Ledger: ldgr}, nil
}

func mainCore(ctx context.Context) error {
	// Parse the configuration file, and setup logger.
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("failed to load xcswapd config: %s\n", err.Error())
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("%s version %v (Go version %s)", appName, Version(), runtime.Version())

	store, err := bolt.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open swap store at %s: %w", cfg.DBPath, err)
	}

	srcLeg, err := newLeg(cfg, ledger.NewSimLedger(time.Now()), simnetSrcFactory, simnetSrcImplA, simnetSrcImplB)
	if err != nil {
		return fmt.Errorf("source leg setup failed: %w", err)
	}
	dstLeg, err := newLeg(cfg, ledger.NewSimLedger(time.Now()), simnetDstFactory, simnetDstImplA, simnetDstImplB)
	if err != nil {
		return fmt.Errorf("destination leg setup failed: %w", err)
	}

	coord, err := coordinator.New(&coordinator.Config{
		Source:       srcLeg,
		Destination:  dstLeg,
		Store:        store,
		Resolver:     cfg.Resolver,
		RetryFastest: cfg.RetryFastest,
		RetrySlowest: cfg.RetrySlowest,
	})
	if err != nil {
		return fmt.Errorf("coordinator setup failed: %w", err)
	}

	// Report swaps left mid-flight by a previous run. Their escrows remain
	// recoverable through the stage windows regardless of daemon uptime.
	active, err := store.ActiveSwaps()
	if err != nil {
		return fmt.Errorf("failed to read active swaps: %w", err)
	}
	for _, rec := range active {
		log.Warnf("order %s left %s; source escrow %s, destination escrow %s",
			rec.OrderHash, rec.Status, rec.SrcEscrow, rec.DstEscrow)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		store.Run(ctx)
	}()

	log.Infof("The resolver is running as %s. Hit CTRL+C to quit...", cfg.Resolver)
	<-ctx.Done()
	wg.Wait()
	log.Infof("Bye!")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mainCore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
