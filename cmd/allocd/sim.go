package main

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/thesis/acre-allocator/dispatcher"
	"github.com/thesis/acre-allocator/events"
	"github.com/thesis/acre-allocator/journal"
	"github.com/thesis/acre-allocator/registry"
	"github.com/thesis/acre-allocator/token"
	"github.com/thesis/acre-allocator/vault"
)

var (
	govAddr        = common.HexToAddress("0x0000000000000000000000000000000000001001")
	maintainerAddr = common.HexToAddress("0x0000000000000000000000000000000000001002")
	stbtcAddr      = common.HexToAddress("0x0000000000000000000000000000000000001003")
	dispatcherAddr = common.HexToAddress("0x0000000000000000000000000000000000001004")
)

// simulation wires the full allocation stack over an in-memory token book:
// one owning vault holding tBTC, N yield destinations, one dispatcher swept
// by a simulated maintainer, and a sqlite journal consuming every event.
type simulation struct {
	cfg *config
	log *zap.Logger

	book    *token.Book
	reg     *registry.AllocationRegistry
	disp    *dispatcher.Dispatcher
	vaults  []*vault.YieldVault
	journal *journal.Journal
}

func newSimulation(cfg *config, log *zap.Logger) (*simulation, error) {
	emitter := events.NewEmitter()

	jnl, err := journal.Open(cfg.JournalPath, log)
	if err != nil {
		return nil, err
	}
	jnl.Attach(emitter)

	book := token.NewBook("tBTC")
	if err := book.Mint(stbtcAddr, big.NewInt(cfg.Supply)); err != nil {
		jnl.Close()
		return nil, err
	}

	reg := registry.NewAllocationRegistry(govAddr, emitter)
	if err := reg.AddMaintainer(govAddr, maintainerAddr); err != nil {
		jnl.Close()
		return nil, err
	}

	disp := dispatcher.New(dispatcherAddr, stbtcAddr, book, reg, emitter)

	sim := &simulation{
		cfg:     cfg,
		log:     log,
		book:    book,
		reg:     reg,
		disp:    disp,
		journal: jnl,
	}
	for i := 0; i < cfg.Destinations; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x2000 + i)))
		v := vault.NewYieldVault(addr, book)
		if err := reg.AddDestination(govAddr, addr); err != nil {
			jnl.Close()
			return nil, err
		}
		disp.Connect(v)
		sim.vaults = append(sim.vaults, v)
	}
	return sim, nil
}

// Run sweeps surplus liquidity on every tick until a signal arrives.
func (s *simulation) Run(stop <-chan os.Signal) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
			s.accrue()
		}
	}
}

// sweep pushes everything above the configured reserve into the
// destinations, round-robin by current tick balance.
func (s *simulation) sweep() error {
	liquid := s.book.BalanceOf(stbtcAddr)
	surplus := new(big.Int).Sub(liquid, big.NewInt(s.cfg.Reserve))
	if surplus.Sign() <= 0 {
		return nil
	}

	// pull-then-push: grant exactly the surplus for this sweep
	if err := s.book.Approve(stbtcAddr, dispatcherAddr, surplus); err != nil {
		return err
	}

	n := int64(len(s.vaults))
	share := new(big.Int).Quo(surplus, big.NewInt(n))
	for i, v := range s.vaults {
		amount := share
		if int64(i) == n-1 {
			amount = new(big.Int).Sub(surplus, new(big.Int).Mul(share, big.NewInt(n-1)))
		}
		if amount.Sign() <= 0 {
			continue
		}
		minShares := v.PreviewDeposit(amount)
		if err := s.disp.DepositToVault(maintainerAddr, v.Address(), amount, minShares); err != nil {
			return fmt.Errorf("deposit to %s: %w", v.Address().Hex(), err)
		}
		s.log.Info("allocated",
			zap.String("destination", v.Address().Hex()),
			zap.String("amount", amount.String()),
			zap.String("shares_held", s.disp.SharesIn(v.Address()).String()))
	}
	return nil
}

// accrue drops a small amount of simulated yield on each destination so the
// exchange rates drift the way live destinations would.
func (s *simulation) accrue() {
	for _, v := range s.vaults {
		yield := new(big.Int).Quo(v.TotalAssets(), big.NewInt(100))
		if yield.Sign() <= 0 {
			continue
		}
		if err := v.Accrue(yield); err != nil {
			s.log.Warn("accrue failed", zap.Error(err))
		}
	}
}

func (s *simulation) Close() {
	if err := s.journal.Close(); err != nil {
		s.log.Warn("journal close failed", zap.Error(err))
	}
}
