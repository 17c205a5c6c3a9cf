package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/token"
)

// YieldVault is an in-memory SharesVault. Share pricing follows the standard
// share-vault convention: deposits and redeems round down, withdraw-for-assets
// rounds the share cost up, and an empty vault prices 1:1. Accrue simulates
// external yield landing on the vault.
type YieldVault struct {
	mu sync.Mutex

	addr  common.Address
	asset token.Ledger

	totalAssets *big.Int
	totalShares *big.Int
	shares      map[common.Address]*big.Int
}

func NewYieldVault(addr common.Address, asset token.Ledger) *YieldVault {
	return &YieldVault{
		addr:        addr,
		asset:       asset,
		totalAssets: big.NewInt(0),
		totalShares: big.NewInt(0),
		shares:      make(map[common.Address]*big.Int),
	}
}

func (v *YieldVault) Address() common.Address { return v.addr }

// Deposit pulls assets from the caller (who must have approved this vault)
// and mints shares at the current rate.
func (v *YieldVault) Deposit(caller common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("vault %s: non-positive deposit", v.addr.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	minted := v.convertToShares(assets)
	if minted.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.asset.TransferFrom(v.addr, caller, v.addr, assets); err != nil {
		return nil, err
	}
	v.totalAssets.Add(v.totalAssets, assets)
	v.totalShares.Add(v.totalShares, minted)
	v.creditShares(caller, minted)
	return minted, nil
}

// Redeem burns an exact share amount and pays out the floor-rounded asset
// value to the caller.
func (v *YieldVault) Redeem(caller common.Address, sharesIn *big.Int) (*big.Int, error) {
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.shares[caller]
	if held == nil || held.Cmp(sharesIn) < 0 {
		return nil, ErrInsufficientShares
	}
	assets := v.convertToAssets(sharesIn)
	if err := v.asset.Transfer(v.addr, caller, assets); err != nil {
		return nil, err
	}
	held.Sub(held, sharesIn)
	v.totalShares.Sub(v.totalShares, sharesIn)
	v.totalAssets.Sub(v.totalAssets, assets)
	return assets, nil
}

// Withdraw pays out an exact asset amount and burns the ceil-rounded share
// cost, returning the shares burned.
func (v *YieldVault) Withdraw(caller common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("vault %s: non-positive withdrawal", v.addr.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.totalAssets.Sign() == 0 {
		return nil, ErrVaultEmpty
	}
	burned := mulDivCeil(v.totalShares, assets, v.totalAssets)
	held := v.shares[caller]
	if held == nil || held.Cmp(burned) < 0 {
		return nil, ErrInsufficientShares
	}
	if err := v.asset.Transfer(v.addr, caller, assets); err != nil {
		return nil, err
	}
	held.Sub(held, burned)
	v.totalShares.Sub(v.totalShares, burned)
	v.totalAssets.Sub(v.totalAssets, assets)
	return burned, nil
}

func (v *YieldVault) PreviewDeposit(assets *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToShares(assets)
}

func (v *YieldVault) PreviewRedeem(sharesIn *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToAssets(sharesIn)
}

func (v *YieldVault) PreviewWithdraw(assets *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	return mulDivCeil(v.totalShares, assets, v.totalAssets)
}

func (v *YieldVault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalAssets)
}

func (v *YieldVault) TotalShares() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalShares)
}

func (v *YieldVault) SharesOf(holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return big.NewInt(0)
}

// Accrue simulates yield: assets appear on the vault without new shares,
// raising the price of every existing share.
func (v *YieldVault) Accrue(yield *big.Int) error {
	if yield == nil || yield.Sign() <= 0 {
		return nil
	}
	book, ok := v.asset.(*token.Book)
	if !ok {
		return fmt.Errorf("vault %s: accrue needs a mintable ledger", v.addr.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := book.Mint(v.addr, yield); err != nil {
		return err
	}
	v.totalAssets.Add(v.totalAssets, yield)
	return nil
}

// convertToShares rounds down; 1:1 when the vault is empty. Callers hold the lock.
func (v *YieldVault) convertToShares(assets *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 || v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	return mulDivFloor(v.totalShares, assets, v.totalAssets)
}

// convertToAssets rounds down. Callers hold the lock.
func (v *YieldVault) convertToAssets(sharesIn *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 {
		return new(big.Int).Set(sharesIn)
	}
	return mulDivFloor(v.totalAssets, sharesIn, v.totalShares)
}

func (v *YieldVault) creditShares(holder common.Address, minted *big.Int) {
	if s, ok := v.shares[holder]; ok {
		s.Add(s, minted)
		return
	}
	v.shares[holder] = new(big.Int).Set(minted)
}
