package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
)

type Kind string

const (
	DestinationAdded      Kind = "destination_added"
	DestinationRemoved    Kind = "destination_removed"
	MaintainerAdded       Kind = "maintainer_added"
	MaintainerRemoved     Kind = "maintainer_removed"
	DepositAllocated      Kind = "deposit_allocated"
	DepositWithdrawn      Kind = "deposit_withdrawn"
	DepositReleased       Kind = "deposit_released"
	VaultDeposit          Kind = "vault_deposit"
	VaultWithdraw         Kind = "vault_withdraw"
	VaultRedeem           Kind = "vault_redeem"
	LedgerDepositCreated  Kind = "ledger_deposit_created"
	LedgerDepositWithdraw Kind = "ledger_deposit_withdrawn"
)

// Event is the flat record handed to the indexing collaborator. Fields that
// do not apply to a given Kind stay zero; amounts are copies, safe to keep.
type Event struct {
	ID   string
	Kind Kind
	At   time.Time

	Destination common.Address
	Owner       common.Address
	Asset       common.Address
	Receiver    common.Address

	DepositID     uint64
	PrevDepositID uint64
	LocalID       uint64

	Amount *big.Int
	Shares *big.Int
	Total  *big.Int
}

// Emitter fans events out to any number of subscribers. The zero value is
// ready to use; a nil *Emitter drops everything, so components can treat
// event wiring as optional.
//
// Emit blocks until every subscriber has received the event, and components
// emit while holding their own locks. Subscribers must therefore keep their
// channels drained (or generously buffered, as the journal does); a stalled
// subscriber stalls every component emitting to it.
type Emitter struct {
	feed event.Feed
}

func NewEmitter() *Emitter { return &Emitter{} }

func (e *Emitter) Subscribe(ch chan<- Event) event.Subscription {
	return e.feed.Subscribe(ch)
}

func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ev.Amount = clone(ev.Amount)
	ev.Shares = clone(ev.Shares)
	ev.Total = clone(ev.Total)
	e.feed.Send(ev)
}

func clone(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
