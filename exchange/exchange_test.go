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

package exchange_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/databrook/databrook/appreg"
	appreginmem "github.com/databrook/databrook/appreg/inmem"
	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/exchange/escrow"
	ledgerinmem "github.com/databrook/databrook/exchange/offerledger/inmem"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/sequence"
	"github.com/databrook/databrook/token"
)

const providerApp = "awesome-app"

type fixture struct {
	coord    *exchange.Coordinator
	escrow   *escrow.TokenEscrow
	tokens   *token.Ledger
	clock    *sequence.Clock
	events   *exchange.Recorder
	resolver *exchange.AdapterResolver

	owner    identity.Address
	consumer identity.Address
	stranger identity.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		tokens:   token.NewLedger(identity.MustRandomAddress()),
		clock:    sequence.NewClock(),
		events:   exchange.NewRecorder(),
		resolver: exchange.NewAdapterResolver(),
		owner:    identity.MustRandomAddress(),
		consumer: identity.MustRandomAddress(),
		stranger: identity.MustRandomAddress(),
	}

	apps := appreginmem.NewRegistry()
	require.NoError(t, apps.Register(t.Context(), providerApp, f.owner))

	coordAddr := identity.MustRandomAddress()
	f.coord = exchange.NewCoordinator(
		exchange.DefaultConfig(),
		coordAddr,
		ledgerinmem.NewLedger(),
		apps,
		f.clock,
		f.resolver,
		f.events,
	)

	f.escrow = escrow.NewTokenEscrow(identity.MustRandomAddress(), coordAddr, f.coord, apps)
	f.escrow.RegisterToken(f.tokens)
	f.resolver.Register(f.escrow.Address(), f.escrow)

	return f
}

func (f *fixture) settlementRef(amount uint64) exchange.SettlementRef {
	return exchange.SettlementRef{
		Adapter:  f.escrow.Address(),
		Selector: escrow.TransactSelector,
		Args:     escrow.EncodeArgs(f.tokens.Address(), amount),
	}
}

func (f *fixture) prepare(t *testing.T, dataIDs []exchange.DataID) exchange.OfferID {
	t.Helper()

	id, err := f.coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, f.settlementRef(100), dataIDs)
	require.NoError(t, err)
	return id
}

func makeDataIDs(n int) []exchange.DataID {
	ids := make([]exchange.DataID, n)
	for i := range ids {
		ids[i] = exchange.DataID{byte(i), byte(i >> 8)}
	}
	return ids
}

func TestPrepare_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	dataIDs := makeDataIDs(64)
	id := f.prepare(t, dataIDs)

	exists, err := f.coord.OfferExists(t.Context(), id)
	require.NoError(t, err)
	require.True(t, exists)

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateNeutral, offer.State)
	require.Equal(t, dataIDs, offer.DataIDs)
	require.Equal(t, providerApp, offer.Provider)
	require.Equal(t, f.consumer, offer.Consumer)
	require.Equal(t, f.settlementRef(100), offer.Settlement)

	require.Len(t, f.events.ByKind(exchange.EventOfferPrepared), 1)
}

// collidingLedger rejects every create as an id collision.
type collidingLedger struct {
	*ledgerinmem.Ledger
}

func (collidingLedger) Create(context.Context, *exchange.Offer) error {
	return exchange.ErrOfferIDCollision
}

func TestPrepare_OfferIDCollision(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	apps := appreginmem.NewRegistry()
	require.NoError(t, apps.Register(t.Context(), providerApp, f.owner))

	coord := exchange.NewCoordinator(
		exchange.DefaultConfig(),
		f.coord.Address(),
		collidingLedger{ledgerinmem.NewLedger()},
		apps,
		f.clock,
		f.resolver,
		f.events,
	)

	_, err := coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, f.settlementRef(100), nil)
	require.ErrorIs(t, err, exchange.ErrOfferIDCollision)
}

func TestPrepare_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var unauthorized exchange.UnauthorizedError
	_, err := f.coord.Prepare(t.Context(), f.stranger, providerApp, f.consumer, f.settlementRef(100), nil)
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, exchange.RoleProvider, unauthorized.Role)
}

func TestPrepare_UnknownApp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coord.Prepare(t.Context(), f.owner, "no-such-app", f.consumer, f.settlementRef(100), nil)
	require.ErrorIs(t, err, appreg.ErrAppNotFound)
}

func TestPrepare_UnknownAdapter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ref := f.settlementRef(100)
	ref.Adapter = identity.MustRandomAddress()

	var invalid exchange.InvalidSettlementContextError
	_, err := f.coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, ref, nil)
	require.ErrorAs(t, err, &invalid)
}

func TestPrepare_UnsupportedSelector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ref := f.settlementRef(100)
	ref.Selector = "refund"

	var invalid exchange.InvalidSettlementContextError
	_, err := f.coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, ref, nil)
	require.ErrorAs(t, err, &invalid)
}

func TestPrepare_TooManyDataIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var limit exchange.LimitExceededError
	_, err := f.coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, f.settlementRef(100), makeDataIDs(exchange.MaxDataIDs+1))
	require.ErrorAs(t, err, &limit)
	require.Equal(t, exchange.MaxDataIDs+1, limit.Count)
}

func TestAddDataIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, makeDataIDs(2))

	require.NoError(t, f.coord.AddDataIDs(t.Context(), f.owner, id, makeDataIDs(3)))

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, offer.DataIDs, 5)
}

func TestAddDataIDs_NeverExceedsCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, makeDataIDs(100))

	var limit exchange.LimitExceededError
	require.ErrorAs(t, f.coord.AddDataIDs(t.Context(), f.owner, id, makeDataIDs(50)), &limit)

	// A failed append changes nothing; filling up to the cap still works.
	require.NoError(t, f.coord.AddDataIDs(t.Context(), f.owner, id, makeDataIDs(exchange.MaxDataIDs-100)))

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, offer.DataIDs, exchange.MaxDataIDs)

	require.ErrorAs(t, f.coord.AddDataIDs(t.Context(), f.owner, id, makeDataIDs(1)), &limit)
}

func TestAddDataIDs_Guards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)

	var unauthorized exchange.UnauthorizedError
	require.ErrorAs(t, f.coord.AddDataIDs(t.Context(), f.stranger, id, makeDataIDs(1)), &unauthorized)

	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	var mismatch exchange.StateMismatchError
	require.ErrorAs(t, f.coord.AddDataIDs(t.Context(), f.owner, id, makeDataIDs(1)), &mismatch)
	require.Equal(t, exchange.StateNeutral, mismatch.Required)
}

func TestOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)
	f.clock.AdvanceBy(42)

	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StatePending, offer.State)
	require.EqualValues(t, 42, offer.OrderedAt)

	require.Len(t, f.events.ByKind(exchange.EventOfferPresented), 1)
}

func TestOrder_TwiceFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)

	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	var mismatch exchange.StateMismatchError
	require.ErrorAs(t, f.coord.Order(t.Context(), f.owner, id), &mismatch)
	require.Equal(t, exchange.StateNeutral, mismatch.Required)
	require.Equal(t, exchange.StatePending, mismatch.Current)
}

func TestOrder_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.ErrorIs(t, f.coord.Order(t.Context(), f.owner, exchange.OfferID{1}), exchange.ErrOfferNotFound)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	var unauthorized exchange.UnauthorizedError
	require.ErrorAs(t, f.coord.Cancel(t.Context(), f.stranger, id), &unauthorized)

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StatePending, offer.State)

	require.NoError(t, f.coord.Cancel(t.Context(), f.owner, id))

	offer, err = f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateCanceled, offer.State)
	require.Len(t, f.events.ByKind(exchange.EventOfferCanceled), 1)
}

func TestCancel_NeutralFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)

	var mismatch exchange.StateMismatchError
	require.ErrorAs(t, f.coord.Cancel(t.Context(), f.owner, id), &mismatch)
	require.Equal(t, exchange.StatePending, mismatch.Required)
}

func TestReject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	var unauthorized exchange.UnauthorizedError
	require.ErrorAs(t, f.coord.Reject(t.Context(), f.owner, id), &unauthorized)
	require.Equal(t, exchange.RoleConsumer, unauthorized.Role)

	require.NoError(t, f.coord.Reject(t.Context(), f.consumer, id))

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateRejected, offer.State)
	require.Len(t, f.events.ByKind(exchange.EventOfferRejected), 1)
}

func TestSettle_TransfersTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 100))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	id := f.prepare(t, makeDataIDs(64))
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	outcome, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)
	require.Nil(t, outcome.Failure)
	require.Equal(t, id, outcome.OfferID)

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateSettled, offer.State)

	require.EqualValues(t, 100, f.tokens.BalanceOf(f.owner))
	require.EqualValues(t, 0, f.tokens.BalanceOf(f.consumer))

	require.Len(t, f.events.ByKind(exchange.EventOfferSettled), 1)
	require.Len(t, f.events.ByKind(exchange.EventOfferReceipt), 1)
	require.Empty(t, f.events.ByKind(exchange.EventSettlementFailed))
}

func TestSettle_LowAllowance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 100))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 50))

	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	outcome, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	require.Equal(t, "insufficient allowance", outcome.Failure.Reason)
	require.ErrorIs(t, outcome.Failure, escrow.ErrLowAllowance)

	// The offer is closed even though no value moved.
	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateSettled, offer.State)

	require.EqualValues(t, 100, f.tokens.BalanceOf(f.consumer))
	require.EqualValues(t, 0, f.tokens.BalanceOf(f.owner))

	failed := f.events.ByKind(exchange.EventSettlementFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "insufficient allowance", failed[0].Reason)
	require.Empty(t, f.events.ByKind(exchange.EventOfferReceipt))
}

func TestSettle_LowBalance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 50))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	outcome, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	require.Equal(t, "insufficient balance", outcome.Failure.Reason)

	require.EqualValues(t, 50, f.tokens.BalanceOf(f.consumer))
}

func TestSettle_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	var unauthorized exchange.UnauthorizedError
	_, err := f.coord.Settle(t.Context(), f.stranger, id)
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, exchange.RoleConsumer, unauthorized.Role)

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StatePending, offer.State)
}

func TestSettle_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 100))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))
	f.clock.AdvanceBy(exchange.DefaultSettleWindow + 1)

	_, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.ErrorIs(t, err, exchange.ErrOfferExpired)

	// Expired offers stay Pending; they can still be canceled or rejected.
	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StatePending, offer.State)
	require.EqualValues(t, 100, f.tokens.BalanceOf(f.consumer))

	require.NoError(t, f.coord.Cancel(t.Context(), f.owner, id))
}

func TestSettle_WindowBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 100))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))
	f.clock.AdvanceBy(exchange.DefaultSettleWindow)

	outcome, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)
	require.Nil(t, outcome.Failure)
}

func TestSettle_TwiceFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.tokens.Mint(f.consumer, 100))
	require.NoError(t, f.tokens.IncreaseAllowance(f.consumer, f.escrow.Address(), 100))

	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	_, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)

	var mismatch exchange.StateMismatchError
	_, err = f.coord.Settle(t.Context(), f.consumer, id)
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, exchange.StateSettled, mismatch.Current)

	// Exactly one transfer happened.
	require.EqualValues(t, 100, f.tokens.BalanceOf(f.owner))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.prepare(t, nil)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))
	require.NoError(t, f.coord.Cancel(t.Context(), f.owner, id))

	var mismatch exchange.StateMismatchError
	require.ErrorAs(t, f.coord.Cancel(t.Context(), f.owner, id), &mismatch)
	require.ErrorAs(t, f.coord.Reject(t.Context(), f.consumer, id), &mismatch)

	_, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.ErrorAs(t, err, &mismatch)

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateCanceled, offer.State)
	require.True(t, offer.State.Terminal())
}

// panicAdapter stands in for a broken third-party settlement module.
type panicAdapter struct{}

func (panicAdapter) Supports(string) bool { return true }

func (panicAdapter) Transact(context.Context, identity.Address, exchange.OfferID, []byte) error {
	panic("adapter bug")
}

func TestSettle_AdapterPanicIsContained(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	addr := identity.MustRandomAddress()
	f.resolver.Register(addr, panicAdapter{})

	ref := exchange.SettlementRef{Adapter: addr, Selector: "anything"}
	id, err := f.coord.Prepare(t.Context(), f.owner, providerApp, f.consumer, ref, nil)
	require.NoError(t, err)
	require.NoError(t, f.coord.Order(t.Context(), f.owner, id))

	outcome, err := f.coord.Settle(t.Context(), f.consumer, id)
	require.NoError(t, err)
	require.NotNil(t, outcome.Failure)
	require.Contains(t, outcome.Failure.Reason, "adapter bug")

	offer, err := f.coord.GetOffer(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, exchange.StateSettled, offer.State)
}
