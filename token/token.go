package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAddress           = errors.New("zero address")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the fungible-token surface the allocation core consumes: pull
// funds in with TransferFrom, push funds out with Transfer, read balances.
// Every amount is in the token's base unit and must be non-negative.
type Ledger interface {
	BalanceOf(holder common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	Approve(owner, spender common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// Book is an in-memory Ledger for one token. It backs tests and the
// simulation daemon; on a live deployment the Ledger is the token contract.
type Book struct {
	mu sync.RWMutex

	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     big.NewInt(0),
	}
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) TotalSupply() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.supply)
}

func (b *Book) BalanceOf(holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits freshly created tokens to an account. Only tests and the
// simulation harness call it; it has no on-chain counterpart here.
func (b *Book) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(to, amount)
	b.supply.Add(b.supply, amount)
	return nil
}

func (b *Book) Transfer(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) || from == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: negative transfer amount", b.symbol)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

func (b *Book) Approve(owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.allowances[owner]
	if !ok {
		row = make(map[common.Address]*big.Int)
		b.allowances[owner] = row
	}
	row[spender] = new(big.Int).Set(amount)
	return nil
}

func (b *Book) Allowance(owner, spender common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if row, ok := b.allowances[owner]; ok {
		if a, ok := row[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return big.NewInt(0)
}

func (b *Book) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) || from == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: negative transfer amount", b.symbol)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.allowances[from]
	allowed := row[spender]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		have := "0"
		if allowed != nil {
			have = allowed.String()
		}
		return fmt.Errorf("%s: spender %s allowance %s below %s: %w",
			b.symbol, spender.Hex(), have, amount.String(), ErrInsufficientAllowance)
	}
	if err := b.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (b *Book) move(from, to common.Address, amount *big.Int) error {
	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		have := "0"
		if bal != nil {
			have = bal.String()
		}
		return fmt.Errorf("%s: %s holds %s, needs %s: %w",
			b.symbol, from.Hex(), have, amount.String(), ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

func (b *Book) credit(to common.Address, amount *big.Int) {
	if bal, ok := b.balances[to]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[to] = new(big.Int).Set(amount)
}
