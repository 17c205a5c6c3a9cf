package allocator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesis/acre-allocator/events"
	"github.com/thesis/acre-allocator/token"
	"github.com/thesis/acre-allocator/vault"
)

var (
	selfAddr  = common.HexToAddress("0x0000000000000000000000000000000000000201")
	stbtc     = common.HexToAddress("0x0000000000000000000000000000000000000202")
	gov       = common.HexToAddress("0x0000000000000000000000000000000000000203")
	custAddr  = common.HexToAddress("0x0000000000000000000000000000000000000204")
	stranger  = common.HexToAddress("0x0000000000000000000000000000000000000205")
	assetAddr = common.HexToAddress("0x0000000000000000000000000000000000000f01")
)

type fixture struct {
	book *token.Book
	cust *vault.Custodian
	allo *Allocator
}

func newFixture(t *testing.T, vaultFunds int64, emitter *events.Emitter) *fixture {
	t.Helper()
	book := token.NewBook("tBTC")
	require.NoError(t, book.Mint(stbtc, big.NewInt(vaultFunds)))
	cust := vault.NewCustodian(custAddr)
	cust.RegisterAsset(assetAddr, book)

	allo := New(Config{
		Self:        selfAddr,
		OwningVault: stbtc,
		Governance:  gov,
		AssetAddr:   assetAddr,
		Asset:       book,
		Destination: cust,
		Emitter:     emitter,
	})
	// the owning vault authorizes the allocator to pull its liquidity
	require.NoError(t, book.Approve(stbtc, selfAddr, big.NewInt(vaultFunds)))
	return &fixture{book: book, cust: cust, allo: allo}
}

// The canonical position lifecycle: allocate 6, top up 5, withdraw 8 leaving
// 3, withdraw the rest. The deposit id is minted once, reused for the top-up,
// kept across the partial withdrawal, and cleared on full unwind.
func TestPositionLifecycle(t *testing.T) {
	f := newFixture(t, 11, nil)

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(6)))
	assert.Equal(t, int64(6), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(1), f.allo.DepositID())

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(5)))
	assert.Equal(t, int64(11), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(1), f.allo.DepositID(), "top-up reuses the open deposit id")

	require.NoError(t, f.allo.Withdraw(stbtc, big.NewInt(8)))
	assert.Equal(t, int64(3), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(1), f.allo.DepositID(), "partial withdrawal keeps the id")

	require.NoError(t, f.allo.Withdraw(stbtc, big.NewInt(3)))
	assert.Equal(t, int64(0), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(0), f.allo.DepositID())

	assert.Equal(t, int64(11), f.book.BalanceOf(stbtc).Int64(), "all funds back at the vault")
}

func TestZeroAllocateIsNoOp(t *testing.T) {
	em := events.NewEmitter()
	ch := make(chan events.Event, 4)
	sub := em.Subscribe(ch)
	defer sub.Unsubscribe()

	f := newFixture(t, 10, em)
	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(0)))
	require.NoError(t, f.allo.Allocate(stbtc, nil))
	assert.Equal(t, int64(0), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(0), f.allo.DepositID())
	assert.Empty(t, ch, "no-op allocation emits nothing")
}

func TestWithdrawPreconditions(t *testing.T) {
	f := newFixture(t, 10, nil)

	assert.ErrorIs(t, f.allo.Withdraw(stbtc, big.NewInt(1)), ErrNothingToWithdraw)

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(10)))
	assert.ErrorIs(t, f.allo.Withdraw(stbtc, big.NewInt(11)), ErrInsufficientPrincipal)
	assert.Equal(t, int64(10), f.allo.TotalAssets().Int64())
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, 10, nil)
	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(10)))

	assert.ErrorIs(t, f.allo.Allocate(stranger, big.NewInt(1)), ErrCallerNotVault)
	assert.ErrorIs(t, f.allo.Allocate(gov, big.NewInt(1)), ErrCallerNotVault)
	assert.ErrorIs(t, f.allo.Withdraw(gov, big.NewInt(1)), ErrCallerNotVault)
	assert.ErrorIs(t, f.allo.Release(stbtc), ErrCallerNotGovernance)
	assert.ErrorIs(t, f.allo.Release(stranger), ErrCallerNotGovernance)
}

func TestRelease(t *testing.T) {
	f := newFixture(t, 25, nil)
	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(25)))

	require.NoError(t, f.allo.Release(gov))
	assert.Equal(t, int64(0), f.allo.TotalAssets().Int64())
	assert.Equal(t, uint64(0), f.allo.DepositID())
	assert.Equal(t, int64(25), f.book.BalanceOf(stbtc).Int64())

	assert.ErrorIs(t, f.allo.Release(gov), ErrNothingToWithdraw)
}

func TestConservationAcrossSequence(t *testing.T) {
	f := newFixture(t, 1000, nil)

	steps := []struct {
		allocate bool
		amount   int64
	}{
		{true, 100}, {true, 250}, {false, 40}, {true, 1}, {false, 311},
		{true, 500}, {false, 400}, {false, 100},
	}
	pulled, returned := int64(0), int64(0)
	for _, s := range steps {
		if s.allocate {
			require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(s.amount)))
			pulled += s.amount
		} else {
			require.NoError(t, f.allo.Withdraw(stbtc, big.NewInt(s.amount)))
			returned += s.amount
		}
		assert.Equal(t, pulled-returned, f.allo.TotalAssets().Int64())
	}
	assert.Equal(t, int64(0), f.allo.TotalAssets().Int64())
	assert.Equal(t, int64(1000), f.book.BalanceOf(stbtc).Int64())
}

func TestFreshIDAfterFullCycle(t *testing.T) {
	f := newFixture(t, 100, nil)

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(50)))
	assert.Equal(t, uint64(1), f.allo.DepositID())
	require.NoError(t, f.allo.Withdraw(stbtc, big.NewInt(50)))

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(50)))
	assert.Equal(t, uint64(2), f.allo.DepositID(), "reopening mints a fresh destination id")
}

// A destination failure after the pull must net to nothing: funds back at
// the owning vault, position still empty, and no standing allowance left
// toward the destination.
func TestFailedAllocateRefundsAndRevokes(t *testing.T) {
	book := token.NewBook("tBTC")
	require.NoError(t, book.Mint(stbtc, big.NewInt(100)))
	// custodian with no asset registered rejects every deposit
	cust := vault.NewCustodian(custAddr)

	allo := New(Config{
		Self:        selfAddr,
		OwningVault: stbtc,
		Governance:  gov,
		AssetAddr:   assetAddr,
		Asset:       book,
		Destination: cust,
	})
	require.NoError(t, book.Approve(stbtc, selfAddr, big.NewInt(100)))

	err := allo.Allocate(stbtc, big.NewInt(60))
	require.ErrorIs(t, err, vault.ErrUnsupportedAsset)
	assert.Equal(t, int64(100), book.BalanceOf(stbtc).Int64(), "pulled funds return to the vault")
	assert.Equal(t, int64(0), book.BalanceOf(selfAddr).Int64())
	assert.Equal(t, int64(0), book.Allowance(selfAddr, custAddr).Int64(),
		"failed allocation must not leave a standing allowance to the destination")
	assert.Equal(t, int64(0), allo.TotalAssets().Int64())
	assert.Equal(t, uint64(0), allo.DepositID())
}

func TestAllocatedEventCarriesIDs(t *testing.T) {
	em := events.NewEmitter()
	ch := make(chan events.Event, 4)
	sub := em.Subscribe(ch)
	defer sub.Unsubscribe()

	f := newFixture(t, 20, em)
	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(12)))
	ev := <-ch
	assert.Equal(t, events.DepositAllocated, ev.Kind)
	assert.Equal(t, uint64(0), ev.PrevDepositID)
	assert.Equal(t, uint64(1), ev.DepositID)
	assert.Equal(t, int64(12), ev.Amount.Int64())
	assert.Equal(t, int64(12), ev.Total.Int64())

	require.NoError(t, f.allo.Allocate(stbtc, big.NewInt(8)))
	ev = <-ch
	assert.Equal(t, uint64(1), ev.PrevDepositID)
	assert.Equal(t, uint64(1), ev.DepositID)
	assert.Equal(t, int64(20), ev.Total.Int64())
}
