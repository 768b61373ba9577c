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

// Package escrow provides the reference settlement adapter: a pull-based
// token transfer from the consumer to the provider's owner for a fixed,
// pre-agreed amount.
//
// The consumer pre-authorizes the escrow as a spender on the token ledger;
// at settlement the escrow pulls the amount recorded in the offer's
// settlement arguments. Nothing moves on a failed check.
package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/databrook/databrook/appreg"
	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/token"
)

// TransactSelector is the one call selector the token escrow supports.
const TransactSelector = "transact"

// ArgsLen is the encoded settlement argument size: token address plus
// big-endian uint64 amount.
const ArgsLen = identity.AddressLen + 8

var (
	// ErrLowAllowance is the settlement failure reason when the consumer
	// has not pre-authorized enough.
	ErrLowAllowance = errors.New("insufficient allowance")

	// ErrLowBalance is the settlement failure reason when the consumer's
	// balance cannot cover the amount.
	ErrLowBalance = errors.New("insufficient balance")
)

// OfferSource reads offers for settlement-context validation. Satisfied by
// the exchange coordinator.
type OfferSource interface {
	GetOffer(ctx context.Context, id exchange.OfferID) (*exchange.Offer, error)
}

// TokenEscrow is a [exchange.SettlementAdapter] moving tokens from the
// consumer to the provider app's owner.
type TokenEscrow struct {
	addr     identity.Address
	exchange identity.Address
	offers   OfferSource
	apps     appreg.Directory

	mu     sync.RWMutex
	tokens map[identity.Address]*token.Ledger
}

var _ exchange.SettlementAdapter = (*TokenEscrow)(nil)

// NewTokenEscrow creates an escrow operating at addr that only accepts
// invocations from exchangeAddr.
func NewTokenEscrow(addr, exchangeAddr identity.Address, offers OfferSource, apps appreg.Directory) *TokenEscrow {
	return &TokenEscrow{
		addr:     addr,
		exchange: exchangeAddr,
		offers:   offers,
		apps:     apps,
		tokens:   make(map[identity.Address]*token.Ledger),
	}
}

// Address returns the address the escrow expects offers to reference.
func (e *TokenEscrow) Address() identity.Address {
	return e.addr
}

// RegisterToken makes a token ledger usable in settlement arguments.
func (e *TokenEscrow) RegisterToken(l *token.Ledger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens[l.Address()] = l
}

func (e *TokenEscrow) Supports(selector string) bool {
	return selector == TransactSelector
}

// EncodeArgs builds the settlement arguments for a token transfer: which
// token, and how much.
func EncodeArgs(tokenAddr identity.Address, amount uint64) []byte {
	args := make([]byte, ArgsLen)
	copy(args, tokenAddr[:])
	binary.BigEndian.PutUint64(args[identity.AddressLen:], amount)
	return args
}

// DecodeArgs is the inverse of [EncodeArgs].
func DecodeArgs(args []byte) (identity.Address, uint64, error) {
	if len(args) != ArgsLen {
		return identity.Address{}, 0, fmt.Errorf("settlement args are %d bytes, want %d", len(args), ArgsLen)
	}

	tokenAddr, err := identity.AddressFromBytes(args[:identity.AddressLen])
	if err != nil {
		return identity.Address{}, 0, err
	}
	return tokenAddr, binary.BigEndian.Uint64(args[identity.AddressLen:]), nil
}

// Transact pulls the agreed amount from the offer's consumer to the owner
// of the offer's provider app.
func (e *TokenEscrow) Transact(ctx context.Context, caller identity.Address, offerID exchange.OfferID, args []byte) error {
	if caller != e.exchange {
		return exchange.UnauthorizedError{Role: exchange.RoleExchange, Caller: caller}
	}

	offer, err := e.offers.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.Settlement.Adapter != e.addr || offer.Settlement.Selector != TransactSelector {
		return exchange.InvalidSettlementContextError{
			Adapter:  offer.Settlement.Adapter,
			Selector: offer.Settlement.Selector,
		}
	}

	tokenAddr, amount, err := DecodeArgs(args)
	if err != nil {
		return err
	}

	ledger, err := e.token(tokenAddr)
	if err != nil {
		return err
	}

	recipient, err := e.apps.Owner(ctx, offer.Provider)
	if err != nil {
		return fmt.Errorf("resolving provider %q: %w", offer.Provider, err)
	}

	// Checked in this order so the reported reason matches the first
	// missing precondition.
	if ledger.Allowance(offer.Consumer, e.addr) < amount {
		return ErrLowAllowance
	}
	if ledger.BalanceOf(offer.Consumer) < amount {
		return ErrLowBalance
	}

	return ledger.TransferFrom(e.addr, offer.Consumer, recipient, amount)
}

// CallPreview is the exact invocation the escrow would receive for an
// offer, for off-line inspection.
type CallPreview struct {
	Selector string
	Args     []byte
	OfferID  exchange.OfferID
}

// Convert previews the transact invocation the escrow would receive for
// offerID with the given selector and arguments. Read-only and open to any
// caller. Fails on a selector the escrow does not support, on arguments it
// cannot decode, and on an unknown offer.
func (e *TokenEscrow) Convert(ctx context.Context, selector string, args []byte, offerID exchange.OfferID) (CallPreview, error) {
	if !e.Supports(selector) {
		return CallPreview{}, exchange.InvalidSettlementContextError{
			Adapter:  e.addr,
			Selector: selector,
		}
	}
	if _, _, err := DecodeArgs(args); err != nil {
		return CallPreview{}, err
	}
	if _, err := e.offers.GetOffer(ctx, offerID); err != nil {
		return CallPreview{}, err
	}

	return CallPreview{
		Selector: selector,
		Args:     args,
		OfferID:  offerID,
	}, nil
}

func (e *TokenEscrow) token(addr identity.Address) (*token.Ledger, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ledger, ok := e.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("unknown token %s", addr)
	}
	return ledger, nil
}
