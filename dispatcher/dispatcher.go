// Package dispatcher routes pooled liquidity from the owning vault into any
// number of registry-approved share-issuing destinations. Every operation is
// maintainer-gated, bounded by a caller-supplied slippage floor or ceiling,
// and nets to nothing on failure: base asset pulled from the owning vault is
// returned before the error surfaces.
package dispatcher

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/events"
	"github.com/thesis/acre-allocator/registry"
	"github.com/thesis/acre-allocator/token"
	"github.com/thesis/acre-allocator/vault"
)

var (
	ErrCallerNotMaintainer = errors.New("caller is not a maintainer")
	ErrVaultUnauthorized   = errors.New("destination vault not authorized")
	ErrMinShares           = errors.New("shares received below minimum")
	ErrMaxShares           = errors.New("shares required above maximum")
	ErrMinAssets           = errors.New("assets received below minimum")
)

// Dispatcher holds no base asset at rest: every operation pulls exactly what
// it needs from the owning vault and forwards everything it receives back.
// The registry is re-checked on every call; approval is never cached.
type Dispatcher struct {
	mu sync.Mutex

	self        common.Address
	owningVault common.Address

	asset    token.Ledger
	registry *registry.AllocationRegistry

	vaults map[common.Address]vault.SharesVault

	emitter *events.Emitter
}

func New(self, owningVault common.Address, asset token.Ledger, reg *registry.AllocationRegistry, emitter *events.Emitter) *Dispatcher {
	return &Dispatcher{
		self:        self,
		owningVault: owningVault,
		asset:       asset,
		registry:    reg,
		vaults:      make(map[common.Address]vault.SharesVault),
		emitter:     emitter,
	}
}

func (d *Dispatcher) Address() common.Address { return d.self }

// Connect binds the destination object serving an address. Registry approval
// is still required per call; connecting alone authorizes nothing.
func (d *Dispatcher) Connect(v vault.SharesVault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vaults[v.Address()] = v
}

// SharesIn reports the dispatcher's share balance at a destination, read
// from the destination itself.
func (d *Dispatcher) SharesIn(destination common.Address) *big.Int {
	d.mu.Lock()
	v, ok := d.vaults[destination]
	d.mu.Unlock()
	if !ok {
		return big.NewInt(0)
	}
	return v.SharesOf(d.self)
}

// DepositToVault pulls assetAmount from the owning vault and deposits it at
// the destination for shares. Fails with ErrMinShares before moving anything
// into the destination if the previewed share output is below minSharesOut;
// if the destination then under-delivers anyway, the deposit is unwound and
// the assets returned.
func (d *Dispatcher) DepositToVault(caller, destination common.Address, assetAmount, minSharesOut *big.Int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.authorize(caller, destination)
	if err != nil {
		return err
	}
	if assetAmount == nil || assetAmount.Sign() <= 0 {
		return fmt.Errorf("deposit to %s: non-positive amount", destination.Hex())
	}

	if err := d.asset.TransferFrom(d.self, d.owningVault, d.self, assetAmount); err != nil {
		return fmt.Errorf("pull from owning vault: %w", err)
	}

	if preview := v.PreviewDeposit(assetAmount); minSharesOut != nil && preview.Cmp(minSharesOut) < 0 {
		return d.refund(assetAmount, fmt.Errorf("previewed %s shares for %s assets: %w",
			preview.String(), assetAmount.String(), ErrMinShares))
	}

	if err := d.asset.Approve(d.self, destination, assetAmount); err != nil {
		return d.refund(assetAmount, err)
	}
	shares, err := v.Deposit(d.self, assetAmount)
	if err != nil {
		d.revoke(destination)
		return d.refund(assetAmount, fmt.Errorf("destination deposit: %w", err))
	}
	if minSharesOut != nil && shares.Cmp(minSharesOut) < 0 {
		// destination deviated from its preview; unwind and give back
		// whatever the redeem recovers
		recovered, rerr := v.Redeem(d.self, shares)
		if rerr != nil {
			return fmt.Errorf("unwind after short mint: %w", rerr)
		}
		return d.refund(recovered, fmt.Errorf("received %s shares: %w", shares.String(), ErrMinShares))
	}

	d.emitter.Emit(events.Event{
		Kind:        events.VaultDeposit,
		Destination: destination,
		Amount:      assetAmount,
		Shares:      shares,
	})
	return nil
}

// WithdrawFromVault recovers an exact asset amount from the destination,
// bounded by the maximum shares the caller is willing to burn, and forwards
// the assets to the owning vault.
func (d *Dispatcher) WithdrawFromVault(caller, destination common.Address, assetAmountWanted, maxSharesIn *big.Int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.authorize(caller, destination)
	if err != nil {
		return err
	}
	if assetAmountWanted == nil || assetAmountWanted.Sign() <= 0 {
		return fmt.Errorf("withdraw from %s: non-positive amount", destination.Hex())
	}

	required := v.PreviewWithdraw(assetAmountWanted)
	if maxSharesIn != nil && required.Cmp(maxSharesIn) > 0 {
		return fmt.Errorf("requires %s shares for %s assets: %w",
			required.String(), assetAmountWanted.String(), ErrMaxShares)
	}

	burned, err := v.Withdraw(d.self, assetAmountWanted)
	if err != nil {
		return fmt.Errorf("destination withdraw: %w", err)
	}
	if maxSharesIn != nil && burned.Cmp(maxSharesIn) > 0 {
		// destination deviated from its preview; the recovered assets still
		// belong to the owning vault
		return d.refund(assetAmountWanted, fmt.Errorf("burned %s shares: %w", burned.String(), ErrMaxShares))
	}
	if err := d.asset.Transfer(d.self, d.owningVault, assetAmountWanted); err != nil {
		return fmt.Errorf("forward to owning vault: %w", err)
	}

	d.emitter.Emit(events.Event{
		Kind:        events.VaultWithdraw,
		Destination: destination,
		Amount:      assetAmountWanted,
		Shares:      burned,
	})
	return nil
}

// RedeemFromVault burns an exact share amount at the destination, bounded by
// a floor on the assets received, and forwards the assets to the owning
// vault.
func (d *Dispatcher) RedeemFromVault(caller, destination common.Address, sharesToRedeem, minAssetsOut *big.Int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, err := d.authorize(caller, destination)
	if err != nil {
		return err
	}
	if sharesToRedeem == nil || sharesToRedeem.Sign() <= 0 {
		return fmt.Errorf("redeem from %s: non-positive shares", destination.Hex())
	}

	if preview := v.PreviewRedeem(sharesToRedeem); minAssetsOut != nil && preview.Cmp(minAssetsOut) < 0 {
		return fmt.Errorf("previewed %s assets for %s shares: %w",
			preview.String(), sharesToRedeem.String(), ErrMinAssets)
	}

	assets, err := v.Redeem(d.self, sharesToRedeem)
	if err != nil {
		return fmt.Errorf("destination redeem: %w", err)
	}
	if minAssetsOut != nil && assets.Cmp(minAssetsOut) < 0 {
		// destination deviated from its preview; the recovered assets still
		// belong to the owning vault
		return d.refund(assets, fmt.Errorf("received %s assets: %w", assets.String(), ErrMinAssets))
	}
	if err := d.asset.Transfer(d.self, d.owningVault, assets); err != nil {
		return fmt.Errorf("forward to owning vault: %w", err)
	}

	d.emitter.Emit(events.Event{
		Kind:        events.VaultRedeem,
		Destination: destination,
		Amount:      assets,
		Shares:      sharesToRedeem,
	})
	return nil
}

func (d *Dispatcher) authorize(caller, destination common.Address) (vault.SharesVault, error) {
	if !d.registry.IsMaintainer(caller) {
		return nil, ErrCallerNotMaintainer
	}
	if !d.registry.IsDestination(destination) {
		return nil, ErrVaultUnauthorized
	}
	v, ok := d.vaults[destination]
	if !ok {
		return nil, ErrVaultUnauthorized
	}
	return v, nil
}

// revoke clears the allowance granted for a failed operation so no standing
// approval toward the destination survives it.
func (d *Dispatcher) revoke(destination common.Address) {
	_ = d.asset.Approve(d.self, destination, big.NewInt(0))
}

func (d *Dispatcher) refund(amount *big.Int, cause error) error {
	if amount.Sign() > 0 {
		if rerr := d.asset.Transfer(d.self, d.owningVault, amount); rerr != nil {
			return fmt.Errorf("refund after %v: %w", cause, rerr)
		}
	}
	return cause
}
