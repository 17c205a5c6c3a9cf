// Package ledger generalizes the single-destination allocator to many base
// assets and many logical owners sharing one external custody destination.
// Each (owner, asset) pair carries its own local deposit id sequence;
// positions are all-or-nothing, withdrawable only by their owner.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/events"
	"github.com/thesis/acre-allocator/position"
	"github.com/thesis/acre-allocator/registry"
	"github.com/thesis/acre-allocator/token"
	"github.com/thesis/acre-allocator/vault"
)

var (
	ErrUnsupportedAsset = errors.New("asset not supported")
	ErrDepositNotFound  = errors.New("deposit not found")
	ErrZeroAmount       = errors.New("zero amount")
)

type depositKey struct {
	owner   common.Address
	asset   common.Address
	localID uint64
}

// DepositLedger tracks per-(owner, asset) positions delegated to one shared
// TrackedVault. Asset approval lives in its own registry instance: its
// destination set is read as the supported-asset set. Withdrawn records are
// deleted outright so a spent id is indistinguishable from one never issued.
type DepositLedger struct {
	mu sync.Mutex

	self   common.Address
	assets *registry.AllocationRegistry

	ledgers     map[common.Address]token.Ledger
	destination vault.TrackedVault

	deposits map[depositKey]*position.Record
	nextID   map[common.Address]map[common.Address]uint64

	emitter *events.Emitter
}

func New(self common.Address, assets *registry.AllocationRegistry, destination vault.TrackedVault, emitter *events.Emitter) *DepositLedger {
	return &DepositLedger{
		self:        self,
		assets:      assets,
		ledgers:     make(map[common.Address]token.Ledger),
		destination: destination,
		deposits:    make(map[depositKey]*position.Record),
		nextID:      make(map[common.Address]map[common.Address]uint64),
		emitter:     emitter,
	}
}

func (l *DepositLedger) Address() common.Address { return l.self }

// ConnectAsset binds the token ledger backing an asset address. The asset
// registry still decides whether the asset is accepted.
func (l *DepositLedger) ConnectAsset(asset common.Address, ledger token.Ledger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ledgers[asset] = ledger
}

// DepositFor pulls amount of asset from the caller, places it at the shared
// destination, and records it under owner with the next local deposit id for
// (owner, asset). The caller funding the deposit need not be the owner.
func (l *DepositLedger) DepositFor(caller, asset common.Address, amount *big.Int, owner common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.assets.IsDestination(asset) {
		return 0, ErrUnsupportedAsset
	}
	ledger, ok := l.ledgers[asset]
	if !ok {
		return 0, ErrUnsupportedAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}

	if err := ledger.TransferFrom(l.self, caller, l.self, amount); err != nil {
		return 0, fmt.Errorf("pull from depositor: %w", err)
	}
	if err := ledger.Approve(l.self, l.destination.Address(), amount); err != nil {
		return 0, l.refund(ledger, caller, amount, err)
	}
	externalID, err := l.destination.Deposit(l.self, asset, amount)
	if err != nil {
		// no standing allowance may survive the failed operation
		_ = ledger.Approve(l.self, l.destination.Address(), big.NewInt(0))
		return 0, l.refund(ledger, caller, amount, fmt.Errorf("destination deposit: %w", err))
	}

	localID := l.mintLocalID(owner, asset)
	rec := &position.Record{}
	rec.Fund(externalID, amount)
	l.deposits[depositKey{owner, asset, localID}] = rec

	l.emitter.Emit(events.Event{
		Kind:        events.LedgerDepositCreated,
		Destination: l.destination.Address(),
		Owner:       owner,
		Asset:       asset,
		LocalID:     localID,
		DepositID:   externalID,
		Amount:      amount,
	})
	return localID, nil
}

// Withdraw unwinds the full position behind (caller, asset, localID) and
// sends it to receiver. Only the owner may withdraw, no matter who funded
// the deposit, and a record can be withdrawn exactly once.
func (l *DepositLedger) Withdraw(caller, asset common.Address, localID uint64, receiver common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := depositKey{caller, asset, localID}
	rec, ok := l.deposits[key]
	if !ok {
		return ErrDepositNotFound
	}

	amount := rec.Principal()
	externalID := rec.ExternalID
	if err := l.destination.Withdraw(l.self, receiver, externalID, amount); err != nil {
		return fmt.Errorf("destination withdraw: %w", err)
	}
	delete(l.deposits, key)

	l.emitter.Emit(events.Event{
		Kind:        events.LedgerDepositWithdraw,
		Destination: l.destination.Address(),
		Owner:       caller,
		Asset:       asset,
		Receiver:    receiver,
		LocalID:     localID,
		DepositID:   externalID,
		Amount:      amount,
	})
	return nil
}

// GetDeposit returns the recorded balance and external deposit id. A
// withdrawn id answers exactly like one that never existed.
func (l *DepositLedger) GetDeposit(owner, asset common.Address, localID uint64) (*big.Int, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.deposits[depositKey{owner, asset, localID}]
	if !ok {
		return nil, 0, ErrDepositNotFound
	}
	return rec.Principal(), rec.ExternalID, nil
}

// TotalFor sums the outstanding balance for one (owner, asset) pair.
// Balances are never aggregated across assets.
func (l *DepositLedger) TotalFor(owner, asset common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := big.NewInt(0)
	for key, rec := range l.deposits {
		if key.owner == owner && key.asset == asset {
			total.Add(total, rec.Principal())
		}
	}
	return total
}

// mintLocalID hands out the next id for (owner, asset), starting at 1,
// never reusing one even after the deposit it named is gone.
func (l *DepositLedger) mintLocalID(owner, asset common.Address) uint64 {
	byAsset, ok := l.nextID[owner]
	if !ok {
		byAsset = make(map[common.Address]uint64)
		l.nextID[owner] = byAsset
	}
	byAsset[asset]++
	return byAsset[asset]
}

func (l *DepositLedger) refund(ledger token.Ledger, caller common.Address, amount *big.Int, cause error) error {
	if rerr := ledger.Transfer(l.self, caller, amount); rerr != nil {
		return fmt.Errorf("refund after %v: %w", cause, rerr)
	}
	return cause
}
