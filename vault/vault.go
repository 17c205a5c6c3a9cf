// Package vault defines the destination-side capabilities the allocation
// core consumes, plus in-memory reference implementations used by tests and
// the simulation daemon. On a live deployment these interfaces front the
// actual yield destinations.
package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroShares          = errors.New("zero shares")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrVaultEmpty          = errors.New("vault is empty")
	ErrUnknownDeposit      = errors.New("unknown deposit id")
	ErrUnsupportedAsset    = errors.New("asset not held by custodian")
	ErrNotDepositOwner     = errors.New("caller does not own deposit")
	ErrInsufficientDeposit = errors.New("withdrawal exceeds deposit balance")
)

// SharesVault is a share-issuing yield destination: assets go in, shares come
// out, and the exchange rate drifts as yield accrues. Preview functions are
// reads and must round the same way the mutating call does.
type SharesVault interface {
	Address() common.Address

	Deposit(caller common.Address, assets *big.Int) (shares *big.Int, err error)
	Redeem(caller common.Address, shares *big.Int) (assets *big.Int, err error)
	Withdraw(caller common.Address, assets *big.Int) (shares *big.Int, err error)

	PreviewDeposit(assets *big.Int) *big.Int
	PreviewRedeem(shares *big.Int) *big.Int
	PreviewWithdraw(assets *big.Int) *big.Int

	TotalAssets() *big.Int
	TotalShares() *big.Int
	SharesOf(holder common.Address) *big.Int
}

// TrackedVault is a deposit-id custody destination: each deposit mints a
// monotonically increasing id, repeated funding tops an id up, and funds are
// recovered by id. Used by the single-destination allocator and the
// multi-asset ledger.
type TrackedVault interface {
	Address() common.Address

	Deposit(caller, asset common.Address, amount *big.Int) (depositID uint64, err error)
	TopUp(caller common.Address, depositID uint64, amount *big.Int) error
	Withdraw(caller, receiver common.Address, depositID uint64, amount *big.Int) error
	BalanceOf(depositID uint64) *big.Int
}
