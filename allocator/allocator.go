// Package allocator routes an owning vault's pooled balance into one trusted
// tracked-deposit destination and accounts for the principal outstanding
// there. The owning vault drives Allocate/Withdraw; governance alone may
// Release the full position in an emergency.
package allocator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/events"
	"github.com/thesis/acre-allocator/position"
	"github.com/thesis/acre-allocator/token"
	"github.com/thesis/acre-allocator/vault"
)

var (
	ErrCallerNotVault        = errors.New("caller is not the owning vault")
	ErrCallerNotGovernance   = errors.New("caller is not governance")
	ErrNothingToWithdraw     = errors.New("no deposit to withdraw from")
	ErrInsufficientPrincipal = errors.New("withdrawal exceeds principal")
)

// Allocator is the single-destination variant: one position, one destination.
// A fresh external deposit id is minted the first time the position opens and
// reused for every top-up until the position is fully unwound.
type Allocator struct {
	mu sync.Mutex

	self        common.Address
	owningVault common.Address
	governance  common.Address

	assetAddr   common.Address
	asset       token.Ledger
	destination vault.TrackedVault

	pos position.Record

	emitter *events.Emitter
}

type Config struct {
	Self        common.Address
	OwningVault common.Address
	Governance  common.Address
	AssetAddr   common.Address
	Asset       token.Ledger
	Destination vault.TrackedVault
	Emitter     *events.Emitter
}

func New(cfg Config) *Allocator {
	return &Allocator{
		self:        cfg.Self,
		owningVault: cfg.OwningVault,
		governance:  cfg.Governance,
		assetAddr:   cfg.AssetAddr,
		asset:       cfg.Asset,
		destination: cfg.Destination,
		emitter:     cfg.Emitter,
	}
}

func (a *Allocator) Address() common.Address { return a.self }

// Allocate pulls amount from the owning vault and pushes it into the
// destination. A zero amount is a successful no-op. Only the owning vault may
// call it.
func (a *Allocator) Allocate(caller common.Address, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owningVault {
		return ErrCallerNotVault
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("allocate: negative amount %s", amount.String())
	}

	if err := a.asset.TransferFrom(a.self, a.owningVault, a.self, amount); err != nil {
		return fmt.Errorf("allocate: pull from vault: %w", err)
	}
	// exact allowance for this operation only, never a standing approval
	if err := a.asset.Approve(a.self, a.destination.Address(), amount); err != nil {
		return a.refund(amount, err)
	}

	prevID := a.pos.ExternalID
	id := prevID
	var err error
	if a.pos.Open() {
		err = a.destination.TopUp(a.self, id, amount)
	} else {
		id, err = a.destination.Deposit(a.self, a.assetAddr, amount)
	}
	if err != nil {
		// no standing allowance may survive the failed operation
		_ = a.asset.Approve(a.self, a.destination.Address(), big.NewInt(0))
		return a.refund(amount, fmt.Errorf("allocate: destination: %w", err))
	}
	a.pos.Fund(id, amount)

	a.emitter.Emit(events.Event{
		Kind:          events.DepositAllocated,
		Destination:   a.destination.Address(),
		Asset:         a.assetAddr,
		PrevDepositID: prevID,
		DepositID:     id,
		Amount:        amount,
		Total:         a.pos.Principal(),
	})
	return nil
}

// Withdraw pulls amount of principal back to the owning vault. Partial
// withdrawals leave the deposit id in place; withdrawing the full principal
// closes the position.
func (a *Allocator) Withdraw(caller common.Address, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owningVault {
		return ErrCallerNotVault
	}
	if !a.pos.Open() {
		return ErrNothingToWithdraw
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("withdraw: non-positive amount")
	}
	if amount.Cmp(a.pos.Balance) > 0 {
		return ErrInsufficientPrincipal
	}

	id := a.pos.ExternalID
	if err := a.destination.Withdraw(a.self, a.owningVault, id, amount); err != nil {
		return fmt.Errorf("withdraw: destination: %w", err)
	}
	if err := a.pos.Drain(amount); err != nil {
		return err
	}

	a.emitter.Emit(events.Event{
		Kind:        events.DepositWithdrawn,
		Destination: a.destination.Address(),
		Asset:       a.assetAddr,
		DepositID:   id,
		Amount:      amount,
		Total:       a.pos.Principal(),
	})
	return nil
}

// Release unwinds the full remaining position back to the owning vault.
// Governance only.
func (a *Allocator) Release(caller common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.governance {
		return ErrCallerNotGovernance
	}
	if !a.pos.Open() {
		return ErrNothingToWithdraw
	}

	id := a.pos.ExternalID
	amount := a.pos.Principal()
	if err := a.destination.Withdraw(a.self, a.owningVault, id, amount); err != nil {
		return fmt.Errorf("release: destination: %w", err)
	}
	if err := a.pos.Drain(amount); err != nil {
		return err
	}

	a.emitter.Emit(events.Event{
		Kind:        events.DepositReleased,
		Destination: a.destination.Address(),
		Asset:       a.assetAddr,
		DepositID:   id,
		Amount:      amount,
	})
	return nil
}

// TotalAssets reports the tracked principal without querying the
// destination. It equals the net of all allocations and withdrawals since
// the position last closed.
func (a *Allocator) TotalAssets() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos.Principal()
}

// DepositID reports the current external deposit id, zero when no position
// is open.
func (a *Allocator) DepositID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos.ExternalID
}

// refund returns a pulled amount to the owning vault after a failed step so
// the whole operation nets to nothing.
func (a *Allocator) refund(amount *big.Int, cause error) error {
	if rerr := a.asset.Transfer(a.self, a.owningVault, amount); rerr != nil {
		return fmt.Errorf("refund after %v: %w", cause, rerr)
	}
	return cause
}
