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

package escrow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	appreginmem "github.com/databrook/databrook/appreg/inmem"
	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/exchange/escrow"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/token"
)

// staticOffers serves a fixed set of offers.
type staticOffers map[exchange.OfferID]*exchange.Offer

func (s staticOffers) GetOffer(_ context.Context, id exchange.OfferID) (*exchange.Offer, error) {
	offer, ok := s[id]
	if !ok {
		return nil, exchange.ErrOfferNotFound
	}
	return offer.Clone(), nil
}

type escrowFixture struct {
	escrow   *escrow.TokenEscrow
	tokens   *token.Ledger
	offers   staticOffers
	exchAddr identity.Address
	owner    identity.Address
	consumer identity.Address
	offerID  exchange.OfferID
}

func newEscrowFixture(t *testing.T, amount uint64) *escrowFixture {
	t.Helper()

	f := &escrowFixture{
		tokens:   token.NewLedger(identity.MustRandomAddress()),
		offers:   staticOffers{},
		exchAddr: identity.MustRandomAddress(),
		owner:    identity.MustRandomAddress(),
		consumer: identity.MustRandomAddress(),
		offerID:  exchange.OfferID{0xab},
	}

	apps := appreginmem.NewRegistry()
	require.NoError(t, apps.Register(t.Context(), "provider", f.owner))

	f.escrow = escrow.NewTokenEscrow(identity.MustRandomAddress(), f.exchAddr, f.offers, apps)
	f.escrow.RegisterToken(f.tokens)

	f.offers[f.offerID] = &exchange.Offer{
		ID:       f.offerID,
		Provider: "provider",
		Consumer: f.consumer,
		Settlement: exchange.SettlementRef{
			Adapter:  f.escrow.Address(),
			Selector: escrow.TransactSelector,
			Args:     escrow.EncodeArgs(f.tokens.Address(), amount),
		},
		State: exchange.StateSettled,
	}

	return f
}

func (f *escrowFixture) args(amount uint64) []byte {
	return escrow.EncodeArgs(f.tokens.Address(), amount)
}

func TestEncodeArgs_RoundTrip(t *testing.T) {
	t.Parallel()

	tokenAddr := identity.MustRandomAddress()
	args := escrow.EncodeArgs(tokenAddr, 12345)
	require.Len(t, args, escrow.ArgsLen)

	gotAddr, gotAmount, err := escrow.DecodeArgs(args)
	require.NoError(t, err)
	require.Equal(t, tokenAddr, gotAddr)
	require.EqualValues(t, 12345, gotAmount)

	_, _, err = escrow.DecodeArgs(args[:10])
	require.Error(t, err)
}

func TestTransact(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)
	require.NoError(t, f.tokens.Mint(f.consumer, 150))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	require.NoError(t, f.escrow.Transact(t.Context(), f.exchAddr, f.offerID, f.args(100)))

	require.EqualValues(t, 100, f.tokens.BalanceOf(f.owner))
	require.EqualValues(t, 50, f.tokens.BalanceOf(f.consumer))
	require.EqualValues(t, 0, f.tokens.Allowance(f.consumer, f.escrow.Address()))
}

func TestTransact_OnlyExchange(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)

	var unauthorized exchange.UnauthorizedError
	err := f.escrow.Transact(t.Context(), identity.MustRandomAddress(), f.offerID, f.args(100))
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, exchange.RoleExchange, unauthorized.Role)
}

func TestTransact_MismatchedOffer(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)

	// An offer bound to a different adapter must not be usable to pull a
	// transfer through this escrow.
	f.offers[f.offerID].Settlement.Adapter = identity.MustRandomAddress()

	var invalid exchange.InvalidSettlementContextError
	err := f.escrow.Transact(t.Context(), f.exchAddr, f.offerID, f.args(100))
	require.ErrorAs(t, err, &invalid)
}

func TestTransact_UnknownOffer(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)
	err := f.escrow.Transact(t.Context(), f.exchAddr, exchange.OfferID{0xff}, f.args(100))
	require.ErrorIs(t, err, exchange.ErrOfferNotFound)
}

func TestTransact_FailureReasons(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		balance   uint64
		allowance uint64
		want      error
	}{
		"low allowance": {
			balance:   100,
			allowance: 50,
			want:      escrow.ErrLowAllowance,
		},
		"no allowance": {
			balance:   100,
			allowance: 0,
			want:      escrow.ErrLowAllowance,
		},
		"low balance": {
			balance:   50,
			allowance: 100,
			want:      escrow.ErrLowBalance,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newEscrowFixture(t, 100)
			require.NoError(t, f.tokens.Mint(f.consumer, tc.balance))
			if tc.allowance > 0 {
				require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), tc.allowance))
			}

			err := f.escrow.Transact(t.Context(), f.exchAddr, f.offerID, f.args(100))
			require.ErrorIs(t, err, tc.want)

			// Nothing moved.
			require.EqualValues(t, tc.balance, f.tokens.BalanceOf(f.consumer))
			require.EqualValues(t, 0, f.tokens.BalanceOf(f.owner))
		})
	}
}

func TestTransact_UnknownToken(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)
	err := f.escrow.Transact(t.Context(), f.exchAddr, f.offerID, escrow.EncodeArgs(identity.MustRandomAddress(), 100))
	require.Error(t, err)
}

func TestConvert(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)

	preview, err := f.escrow.Convert(t.Context(), escrow.TransactSelector, f.args(100), f.offerID)
	require.NoError(t, err)
	require.Equal(t, escrow.TransactSelector, preview.Selector)
	require.Equal(t, f.args(100), preview.Args)
	require.Equal(t, f.offerID, preview.OfferID)

	_, err = f.escrow.Convert(t.Context(), escrow.TransactSelector, f.args(100), exchange.OfferID{0xff})
	require.ErrorIs(t, err, exchange.ErrOfferNotFound)
}

func TestConvert_UnsupportedSelector(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)

	_, err := f.escrow.Convert(t.Context(), "not-transact", f.args(100), f.offerID)

	var ctxErr exchange.InvalidSettlementContextError
	require.ErrorAs(t, err, &ctxErr)
	require.Equal(t, "not-transact", ctxErr.Selector)
	require.Equal(t, f.escrow.Address(), ctxErr.Adapter)
}

func TestConvert_MalformedArgs(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)

	_, err := f.escrow.Convert(t.Context(), escrow.TransactSelector, []byte{0x01, 0x02}, f.offerID)
	require.Error(t, err)
}

func TestSupports(t *testing.T) {
	t.Parallel()

	f := newEscrowFixture(t, 100)
	require.True(t, f.escrow.Supports(escrow.TransactSelector))
	require.False(t, f.escrow.Supports("refund"))
}
