// Package token holds the in-memory collaborators the settlement engine
// trades against: a fungible payment ledger and the two asset registries.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner  = errors.New("not owner")
	ErrNotMinter = errors.New("not minter")

	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("negative amount")
)

// Coin is the payment ledger: balances, owner-gated minting and an
// allowance/pull-transfer primitive. Every method applies all-or-nothing
// under a single lock.
type Coin struct {
	name   string
	symbol string
	owner  common.Address

	mu         sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

func NewCoin(name, symbol string, owner common.Address) *Coin {
	return &Coin{
		name:       name,
		symbol:     symbol,
		owner:      owner,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     big.NewInt(0),
	}
}

func (c *Coin) Name() string   { return c.name }
func (c *Coin) Symbol() string { return c.symbol }

func (c *Coin) TotalSupply() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.supply)
}

func (c *Coin) Mint(actor, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if actor != c.owner {
		return ErrNotOwner
	}
	c.credit(to, amount)
	c.supply.Add(c.supply, amount)
	return nil
}

func (c *Coin) BalanceOf(addr common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (c *Coin) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byOwner, ok := c.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		c.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

func (c *Coin) Allowance(owner, spender common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (c *Coin) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move(from, to, amount)
}

func (c *Coin) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	allowance := c.allowances[from][spender]
	if allowance == nil {
		allowance = big.NewInt(0)
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("spender %s of %s: %w", spender.Hex(), from.Hex(), ErrInsufficientAllowance)
	}
	if err := c.move(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// move requires c.mu held.
func (c *Coin) move(from, to common.Address, amount *big.Int) error {
	bal := c.balances[from]
	if bal == nil {
		bal = big.NewInt(0)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("account %s: %w", from.Hex(), ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	c.credit(to, amount)
	return nil
}

// credit requires c.mu held.
func (c *Coin) credit(to common.Address, amount *big.Int) {
	if b, ok := c.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	c.balances[to] = new(big.Int).Set(amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}
