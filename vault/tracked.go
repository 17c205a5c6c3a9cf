package vault

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/thesis/acre-allocator/token"
)

type trackedDeposit struct {
	owner   common.Address
	asset   common.Address
	balance *big.Int
}

// Custodian is an in-memory TrackedVault holding any number of assets.
// Deposit ids are minted from one counter shared across all depositors and
// never reused. Only the depositor may top up or withdraw an id.
type Custodian struct {
	mu sync.Mutex

	addr    common.Address
	ledgers map[common.Address]token.Ledger

	nextID   uint64
	deposits map[uint64]*trackedDeposit
}

func NewCustodian(addr common.Address) *Custodian {
	return &Custodian{
		addr:     addr,
		ledgers:  make(map[common.Address]token.Ledger),
		nextID:   1,
		deposits: make(map[uint64]*trackedDeposit),
	}
}

// RegisterAsset wires the ledger backing an asset address. Deposits in an
// unregistered asset are rejected.
func (c *Custodian) RegisterAsset(asset common.Address, ledger token.Ledger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgers[asset] = ledger
}

func (c *Custodian) Address() common.Address { return c.addr }

func (c *Custodian) Deposit(caller, asset common.Address, amount *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ledger, ok := c.ledgers[asset]
	if !ok {
		return 0, ErrUnsupportedAsset
	}
	if err := ledger.TransferFrom(c.addr, caller, c.addr, amount); err != nil {
		return 0, err
	}
	id := c.nextID
	c.nextID++
	c.deposits[id] = &trackedDeposit{
		owner:   caller,
		asset:   asset,
		balance: new(big.Int).Set(amount),
	}
	return id, nil
}

func (c *Custodian) TopUp(caller common.Address, depositID uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deposits[depositID]
	if !ok {
		return ErrUnknownDeposit
	}
	if d.owner != caller {
		return ErrNotDepositOwner
	}
	ledger := c.ledgers[d.asset]
	if err := ledger.TransferFrom(c.addr, caller, c.addr, amount); err != nil {
		return err
	}
	d.balance.Add(d.balance, amount)
	return nil
}

func (c *Custodian) Withdraw(caller, receiver common.Address, depositID uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.deposits[depositID]
	if !ok {
		return ErrUnknownDeposit
	}
	if d.owner != caller {
		return ErrNotDepositOwner
	}
	if amount.Cmp(d.balance) > 0 {
		return ErrInsufficientDeposit
	}
	ledger := c.ledgers[d.asset]
	if err := ledger.Transfer(c.addr, receiver, amount); err != nil {
		return err
	}
	d.balance.Sub(d.balance, amount)
	if d.balance.Sign() == 0 {
		delete(c.deposits, depositID)
	}
	return nil
}

func (c *Custodian) BalanceOf(depositID uint64) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.deposits[depositID]; ok {
		return new(big.Int).Set(d.balance)
	}
	return big.NewInt(0)
}
