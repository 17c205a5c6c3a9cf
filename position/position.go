// Package position holds the external-custody position record shared by the
// single-destination allocator and the multi-asset ledger: a principal
// balance tied to a destination-side deposit id.
package position

import (
	"errors"
	"math/big"
)

var ErrUnderflow = errors.New("position balance underflow")

// Record tracks principal placed at an external destination. ExternalID 0
// means no position is open. The zero value is a closed position.
type Record struct {
	Balance    *big.Int
	ExternalID uint64
}

func (r *Record) Open() bool { return r.ExternalID != 0 }

// Principal returns a copy of the tracked balance, zero when closed.
func (r *Record) Principal() *big.Int {
	if r.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.Balance)
}

// Fund opens the record under id, or adds to it if already open under the
// same id.
func (r *Record) Fund(id uint64, amount *big.Int) {
	if r.Balance == nil {
		r.Balance = big.NewInt(0)
	}
	r.ExternalID = id
	r.Balance.Add(r.Balance, amount)
}

// Drain removes amount from the balance, failing fast instead of wrapping on
// underflow. Draining to exactly zero closes the record.
func (r *Record) Drain(amount *big.Int) error {
	if r.Balance == nil || r.Balance.Cmp(amount) < 0 {
		return ErrUnderflow
	}
	r.Balance.Sub(r.Balance, amount)
	if r.Balance.Sign() == 0 {
		r.Balance = nil
		r.ExternalID = 0
	}
	return nil
}
