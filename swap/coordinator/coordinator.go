// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package coordinator drives a resolver's side of a cross-chain swap. The
// coordinator deploys the source and destination escrows with aligned
// schedules, watches the destination event log for the secret reveal, and
// replays the secret on the source side, falling back to time-gated
// cancellation of both legs when the reveal never lands. The two ledgers
// share nothing; all cross-chain knowledge flows through observed events and
// retried, stage-gated calls.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xcswap/xcswap/swap"
	"github.com/xcswap/xcswap/swap/db"
	"github.com/xcswap/xcswap/swap/escrow"
	"github.com/xcswap/xcswap/swap/factory"
	"github.com/xcswap/xcswap/swap/ledger"
	"github.com/xcswap/xcswap/swap/timelocks"
	"github.com/xcswap/xcswap/swap/wait"
	"golang.org/x/sync/errgroup"
)

// Leg is one chain's deployment surface.
type Leg struct {
	Factory *factory.Factory
	Ledger  ledger.Ledger
}

// Config is the coordinator configuration.
type Config struct {
	Source      *Leg
	Destination *Leg
	// Store persists swap records across restarts. Optional.
	Store db.SwapStore
	// Resolver is the coordinator's own address: the taker on the source
	// leg and the depositing maker on the destination leg.
	Resolver common.Address
	// RetryFastest and RetrySlowest bound the tapering retry schedule for
	// stage-gated calls. Zero values get sane defaults.
	RetryFastest time.Duration
	RetrySlowest time.Duration
}

// Swap is one cross-chain swap to execute. The immutables are supplied
// unstamped; the factories stamp deployment times.
type Swap struct {
	OrderHash common.Hash
	// Source and Destination are the per-leg escrow parameters. They must
	// share a hashlock, and the resolver must be the source taker and the
	// destination maker.
	Source      *escrow.Immutables
	Destination *escrow.Immutables
	// Deadline bounds the whole execution in wall-clock time. Retried calls
	// give up and fall back to cancellation when it passes.
	Deadline time.Time
}

// Coordinator executes swaps as a resolver.
type Coordinator struct {
	src      *Leg
	dst      *Leg
	store    db.SwapStore
	resolver common.Address
	queue    *wait.Queue
}

// New constructs a Coordinator.
func New(cfg *Config) (*Coordinator, error) {
	if cfg.Source == nil || cfg.Destination == nil {
		return nil, fmt.Errorf("both legs required")
	}
	if cfg.Resolver == (common.Address{}) {
		return nil, fmt.Errorf("resolver address unset")
	}
	fastest, slowest := cfg.RetryFastest, cfg.RetrySlowest
	if fastest == 0 {
		fastest = time.Second
	}
	if slowest == 0 {
		slowest = time.Minute
	}
	return &Coordinator{
		src:      cfg.Source,
		dst:      cfg.Destination,
		store:    cfg.Store,
		resolver: cfg.Resolver,
		queue:    wait.NewQueue(fastest, slowest),
	}, nil
}

// Run runs the retry queue until the context is canceled. Execute calls
// require a running coordinator.
func (c *Coordinator) Run(ctx context.Context) {
	c.queue.Run(ctx)
}

// saveRecord persists the record if a store is configured.
func (c *Coordinator) saveRecord(r *db.SwapRecord) {
	if c.store == nil {
		return
	}
	r.Stamp = time.Now()
	if err := c.store.StoreSwap(r); err != nil {
		log.Errorf("error storing record for order %s: %v", r.OrderHash, err)
	}
}

// checkSwap validates the cross-leg consistency of the swap parameters
// before anything is deployed.
func (c *Coordinator) checkSwap(sw *Swap) error {
	if sw.Source == nil || sw.Destination == nil {
		return fmt.Errorf("both legs' immutables required")
	}
	if sw.Source.Hashlock != sw.Destination.Hashlock {
		return fmt.Errorf("legs commit to different hashlocks")
	}
	if sw.Source.Taker != c.resolver {
		return fmt.Errorf("source taker %s is not the resolver", sw.Source.Taker)
	}
	if sw.Destination.Maker != c.resolver {
		return fmt.Errorf("destination maker %s is not the resolver", sw.Destination.Maker)
	}
	return nil
}

// Execute runs one swap to completion: both legs deployed, then either the
// secret replayed on the source side or both legs cancelled. It blocks until
// the swap reaches a terminal status or the context is canceled.
func (c *Coordinator) Execute(ctx context.Context, sw *Swap) error {
	if err := c.checkSwap(sw); err != nil {
		return err
	}

	// Leg one: lock the maker's funds on the source chain.
	srcEsc, srcImm, err := c.src.Factory.CreateSource(sw.Source.Maker, sw.Source)
	if err != nil {
		return fmt.Errorf("source leg deployment failed: %w", err)
	}
	rec := &db.SwapRecord{
		OrderHash: sw.OrderHash,
		Status:    db.StatusSourceDeployed,
		SrcEscrow: srcEsc.Address(),
		Hashlock:  sw.Source.Hashlock,
		SrcAmount: srcImm.Amount,
	}
	c.saveRecord(rec)
	log.Infof("order %s: source escrow %s deployed", sw.OrderHash, srcEsc.Address())

	// Subscribe before the destination leg exists so the reveal cannot slip
	// between deployment and observation.
	dstEvents, unsub := c.dst.Ledger.Subscribe()
	defer unsub()

	// Leg two: lock the resolver's funds on the destination chain. The
	// destination factory checks its cancellation against the source leg's,
	// so a source-side refund can never race a destination-side withdrawal.
	srcCancellation := srcImm.Timelocks.StageTime(timelocks.SrcCancellation)
	dstEsc, dstImm, err := c.dst.Factory.CreateDestination(c.resolver, sw.Destination, srcCancellation)
	if err != nil {
		// The source leg is live with nothing across from it. Sweep it back.
		log.Warnf("order %s: destination leg deployment failed: %v", sw.OrderHash, err)
		cancelErr := c.cancelLeg(ctx, srcEsc.Escrow, srcImm, sw.Source.Maker, sw.Deadline)
		if cancelErr != nil {
			return errors.Join(err, cancelErr)
		}
		rec.Status = db.StatusCancelled
		c.saveRecord(rec)
		return err
	}
	rec.Status = db.StatusDestinationDeployed
	rec.DstEscrow = dstEsc.Address()
	rec.DstAmount = dstImm.Amount
	c.saveRecord(rec)
	log.Infof("order %s: destination escrow %s deployed", sw.OrderHash, dstEsc.Address())

	// The counterparty withdraws on the destination chain, revealing the
	// secret in the event log.
	secret, err := c.awaitSecret(ctx, sw, dstEvents, dstEsc.Address(), dstImm)
	if err != nil {
		log.Warnf("order %s: no secret reveal: %v", sw.OrderHash, err)
		if cancelErr := c.cancelBoth(ctx, sw, srcEsc, srcImm, dstEsc, dstImm); cancelErr != nil {
			return errors.Join(err, cancelErr)
		}
		rec.Status = db.StatusCancelled
		c.saveRecord(rec)
		return nil
	}
	rec.Status = db.StatusSecretRevealed
	rec.Secret = secret
	c.saveRecord(rec)
	log.Debugf("order %s: secret revealed on destination escrow %s", sw.OrderHash, dstEsc.Address())

	// Replay the secret on the source side. The resolver is the source
	// taker, so the principal and the deposit both land with the resolver.
	if err := c.retryAction(ctx, sw.Deadline, func() error {
		return srcEsc.Withdraw(c.resolver, secret, srcImm)
	}); err != nil {
		return fmt.Errorf("source withdrawal failed: %w", err)
	}
	rec.Status = db.StatusRedeemed
	c.saveRecord(rec)
	log.Infof("order %s: redeemed", sw.OrderHash)
	return nil
}

// awaitSecret watches the destination event log for the withdrawal that
// reveals the secret, giving up when the destination cancellation stage
// opens or the deadline passes.
func (c *Coordinator) awaitSecret(ctx context.Context, sw *Swap, events <-chan *ledger.Event, dstAddr common.Address, dstImm *escrow.Immutables) ([32]byte, error) {
	var zero [32]byte

	// The window closes on the destination ledger's clock, which only the
	// retry queue observes.
	dstCancellation := dstImm.Timelocks.StageTime(timelocks.DstCancellation)
	windowClosed := make(chan struct{})
	c.queue.Offer(&wait.Attempt{
		Deadline: sw.Deadline,
		Try: func() wait.Directive {
			if !c.dst.Ledger.Now().Before(dstCancellation) {
				close(windowClosed)
				return wait.Done
			}
			return wait.TryAgain
		},
		OnExpire: func() { close(windowClosed) },
	})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return zero, fmt.Errorf("destination event feed closed")
			}
			if ev.Type != ledger.EventWithdrawal || ev.Emitter != dstAddr {
				continue
			}
			return ev.Secret, nil
		case <-windowClosed:
			return zero, swap.NewError(swap.ErrWindowClosed,
				fmt.Sprintf("destination cancellation at %s reached without a reveal", dstCancellation))
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// retryable reports whether the action should be retried on a later tick.
// Only premature stage timing is worth retrying; every other failure is
// permanent under fixed inputs.
func retryable(err error) bool {
	return errors.Is(err, swap.ErrTooEarly)
}

// retryAction runs the action through the tapering queue until it succeeds,
// fails permanently, or times out at the deadline.
func (c *Coordinator) retryAction(ctx context.Context, deadline time.Time, action func() error) error {
	result := make(chan error, 1)
	c.queue.Offer(&wait.Attempt{
		Deadline: deadline,
		Try: func() wait.Directive {
			err := action()
			if retryable(err) {
				return wait.TryAgain
			}
			result <- err
			return wait.Done
		},
		OnExpire: func() {
			result <- swap.NewError(swap.ErrWindowClosed, "action deadline passed")
		},
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelLeg cancels one escrow as its maker, retrying until the cancellation
// stage opens.
func (c *Coordinator) cancelLeg(ctx context.Context, esc *escrow.Escrow, imm *escrow.Immutables, maker common.Address, deadline time.Time) error {
	return c.retryAction(ctx, deadline, func() error {
		return esc.Cancel(maker, imm)
	})
}

// cancelBoth sweeps both legs back to their depositors. The legs are
// independent chains, so the sweeps run concurrently; either failure
// surfaces, but one leg failing does not stop the other.
func (c *Coordinator) cancelBoth(ctx context.Context, sw *Swap, srcEsc *escrow.SourceEscrow, srcImm *escrow.Immutables,
	dstEsc *escrow.DestinationEscrow, dstImm *escrow.Immutables) error {

	var g errgroup.Group
	g.Go(func() error {
		// Destination funds return to the resolver.
		err := c.cancelLeg(ctx, dstEsc.Escrow, dstImm, c.resolver, sw.Deadline)
		if err != nil {
			return fmt.Errorf("destination leg cancellation failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Source funds return to the maker.
		err := c.cancelLeg(ctx, srcEsc.Escrow, srcImm, sw.Source.Maker, sw.Deadline)
		if err != nil {
			return fmt.Errorf("source leg cancellation failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
