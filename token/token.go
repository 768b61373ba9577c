// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token implements a minimal fungible-token ledger with holder
// balances and spender allowances. It backs the pull-based transfers the
// token settlement adapter performs.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/databrook/databrook/identity"
)

// ErrAmountOverflow indicates a mint or transfer would overflow a balance.
var ErrAmountOverflow = errors.New("token amount overflow")

// InsufficientBalanceError indicates an operation failed because the holder
// does not have enough balance.
type InsufficientBalanceError struct {
	Holder  identity.Address
	Balance uint64
	Needed  uint64
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Needed)
}

// InsufficientAllowanceError indicates a spender tried to move more of a
// holder's balance than the holder approved.
type InsufficientAllowanceError struct {
	Holder    identity.Address
	Spender   identity.Address
	Allowance uint64
	Needed    uint64
}

func (e InsufficientAllowanceError) Error() string {
	return fmt.Sprintf("insufficient allowance: have %d, need %d", e.Allowance, e.Needed)
}

// Ledger is a concurrency-safe in-memory token ledger.
//
// All operations take the acting party explicitly; the ledger performs no
// caller authentication of its own.
type Ledger struct {
	mu         sync.Mutex
	addr       identity.Address
	balances   map[identity.Address]uint64
	allowances map[identity.Address]map[identity.Address]uint64
}

// NewLedger creates an empty ledger identified by the given address.
func NewLedger(addr identity.Address) *Ledger {
	return &Ledger{
		addr:       addr,
		balances:   make(map[identity.Address]uint64),
		allowances: make(map[identity.Address]map[identity.Address]uint64),
	}
}

// Address returns the address this token ledger is known by.
func (l *Ledger) Address() identity.Address {
	return l.addr
}

// Mint credits the given amount to an account.
func (l *Ledger) Mint(to identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[to]
	if balance+amount < balance {
		return ErrAmountOverflow
	}
	l.balances[to] = balance + amount
	return nil
}

// BalanceOf returns the current balance of an account.
func (l *Ledger) BalanceOf(holder identity.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[holder]
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transfer(from, to, amount)
}

// Approve sets the amount a spender may pull from the holder's balance,
// replacing any previous approval.
func (l *Ledger) Approve(holder, spender identity.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setAllowance(holder, spender, amount)
}

// IncreaseAllowance raises the spender's allowance by amount.
func (l *Ledger) IncreaseAllowance(holder, spender identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.allowance(holder, spender)
	if current+amount < current {
		return ErrAmountOverflow
	}
	l.setAllowance(holder, spender, current+amount)
	return nil
}

// DecreaseAllowance lowers the spender's allowance by amount.
func (l *Ledger) DecreaseAllowance(holder, spender identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.allowance(holder, spender)
	if current < amount {
		return InsufficientAllowanceError{
			Holder:    holder,
			Spender:   spender,
			Allowance: current,
			Needed:    amount,
		}
	}
	l.setAllowance(holder, spender, current-amount)
	return nil
}

// Allowance returns how much the spender may currently pull from the holder.
func (l *Ledger) Allowance(holder, spender identity.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.allowance(holder, spender)
}

// TransferFrom moves amount from the holder to the recipient on behalf of the
// spender, consuming the spender's allowance.
//
// The allowance is checked before the balance so callers can distinguish the
// two failure modes.
func (l *Ledger) TransferFrom(spender, from, to identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowance(from, spender)
	if allowance < amount {
		return InsufficientAllowanceError{
			Holder:    from,
			Spender:   spender,
			Allowance: allowance,
			Needed:    amount,
		}
	}

	if err := l.transfer(from, to, amount); err != nil {
		return err
	}

	l.setAllowance(from, spender, allowance-amount)
	return nil
}

func (l *Ledger) transfer(from, to identity.Address, amount uint64) error {
	balance := l.balances[from]
	if balance < amount {
		return InsufficientBalanceError{
			Holder:  from,
			Balance: balance,
			Needed:  amount,
		}
	}
	if l.balances[to]+amount < l.balances[to] {
		return ErrAmountOverflow
	}

	l.balances[from] = balance - amount
	l.balances[to] += amount
	return nil
}

func (l *Ledger) allowance(holder, spender identity.Address) uint64 {
	return l.allowances[holder][spender]
}

func (l *Ledger) setAllowance(holder, spender identity.Address, amount uint64) {
	spenders := l.allowances[holder]
	if spenders == nil {
		spenders = make(map[identity.Address]uint64)
		l.allowances[holder] = spenders
	}
	if amount == 0 {
		delete(spenders, spender)
		return
	}
	spenders[spender] = amount
}
