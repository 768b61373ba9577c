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

package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/databrook/databrook/appreg"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
	"github.com/databrook/databrook/sequence"
)

// Config tunes the coordinator. The zero value picks the defaults.
type Config struct {
	// SettleWindow is the number of sequence units after ordering during
	// which settle is still accepted.
	SettleWindow uint64
}

func DefaultConfig() Config {
	return Config{
		SettleWindow: DefaultSettleWindow,
	}
}

// Coordinator is the public operation surface of the settlement protocol.
// It authorizes callers against the app directory, drives the offer ledger
// through transitions, and invokes the settlement adapter when an offer
// settles.
type Coordinator struct {
	cfg      Config
	ledger   OfferLedger
	apps     appreg.Directory
	seq      sequence.Source
	adapters *AdapterResolver
	events   Sink
	// addr identifies the coordinator itself to settlement adapters, so
	// adapters can refuse calls from anyone else.
	addr identity.Address
}

func NewCoordinator(
	cfg Config,
	addr identity.Address,
	ledger OfferLedger,
	apps appreg.Directory,
	seq sequence.Source,
	adapters *AdapterResolver,
	events Sink,
) *Coordinator {
	if cfg.SettleWindow == 0 {
		cfg.SettleWindow = DefaultSettleWindow
	}
	if events == nil {
		events = NewLogSink(slog.Default())
	}

	return &Coordinator{
		cfg:      cfg,
		addr:     addr,
		ledger:   ledger,
		apps:     apps,
		seq:      seq,
		adapters: adapters,
		events:   events,
	}
}

// Address returns the identity the coordinator presents to adapters.
func (c *Coordinator) Address() identity.Address {
	return c.addr
}

// Prepare creates a Neutral offer from provider to consumer. The caller must
// own the provider app and the settlement reference must resolve to a
// registered adapter that supports the selector.
func (c *Coordinator) Prepare(
	ctx context.Context,
	caller identity.Address,
	provider string,
	consumer identity.Address,
	ref SettlementRef,
	dataIDs []DataID,
) (OfferID, error) {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.Prepare")
	defer span.End()

	if err := c.authorizeProvider(ctx, provider, caller); err != nil {
		return OfferID{}, otelutil.RecordError(span, err)
	}

	adapter, ok := c.adapters.Resolve(ref.Adapter)
	if !ok || !adapter.Supports(ref.Selector) {
		return OfferID{}, otelutil.RecordError(span, InvalidSettlementContextError{
			Adapter:  ref.Adapter,
			Selector: ref.Selector,
		})
	}

	id, err := NewOfferID(provider, consumer)
	if err != nil {
		return OfferID{}, otelutil.RecordError(span, err)
	}

	offer, err := NewOffer(id, provider, consumer, ref, dataIDs)
	if err != nil {
		return OfferID{}, otelutil.RecordError(span, err)
	}

	if err := c.ledger.Create(ctx, offer); err != nil {
		if errors.Is(err, ErrOfferIDCollision) {
			// ids are hashed from random UUIDs; a collision means the id
			// scheme or the ledger is broken, not the caller's request
			slog.ErrorContext(ctx, "offer id collision",
				"offer_id", id.String(),
				"provider", provider)
		}
		return OfferID{}, otelutil.RecordError(span, fmt.Errorf("storing offer: %w", err))
	}

	c.publish(ctx, EventOfferPrepared, offer, "")
	return id, nil
}

// AddDataIDs appends data ids to a Neutral offer. Caller must own the
// provider app.
func (c *Coordinator) AddDataIDs(ctx context.Context, caller identity.Address, id OfferID, dataIDs []DataID) error {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.AddDataIDs")
	defer span.End()

	_, err := c.ledger.Update(ctx, id, func(o *Offer) error {
		if err := c.authorizeProvider(ctx, o.Provider, caller); err != nil {
			return err
		}
		return o.AddDataIDs(dataIDs)
	})
	if err != nil {
		return otelutil.RecordError(span, err)
	}
	return nil
}

// Order submits a Neutral offer to its consumer, recording the current
// ordering counter for the settle window. Caller must own the provider app.
func (c *Coordinator) Order(ctx context.Context, caller identity.Address, id OfferID) error {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.Order")
	defer span.End()

	offer, err := c.ledger.Update(ctx, id, func(o *Offer) error {
		if err := c.authorizeProvider(ctx, o.Provider, caller); err != nil {
			return err
		}

		seq, err := c.seq.Current(ctx)
		if err != nil {
			return fmt.Errorf("reading ordering counter: %w", err)
		}
		return o.Order(seq)
	})
	if err != nil {
		return otelutil.RecordError(span, err)
	}

	c.publish(ctx, EventOfferPresented, offer, "")
	return nil
}

// Cancel withdraws a Pending offer. Caller must own the provider app.
func (c *Coordinator) Cancel(ctx context.Context, caller identity.Address, id OfferID) error {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.Cancel")
	defer span.End()

	offer, err := c.ledger.Update(ctx, id, func(o *Offer) error {
		if err := c.authorizeProvider(ctx, o.Provider, caller); err != nil {
			return err
		}
		return o.Cancel()
	})
	if err != nil {
		return otelutil.RecordError(span, err)
	}

	c.publish(ctx, EventOfferCanceled, offer, "")
	return nil
}

// Reject declines a Pending offer. Caller must be the recorded consumer.
func (c *Coordinator) Reject(ctx context.Context, caller identity.Address, id OfferID) error {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.Reject")
	defer span.End()

	offer, err := c.ledger.Update(ctx, id, func(o *Offer) error {
		if err := authorizeConsumer(o, caller); err != nil {
			return err
		}
		return o.Reject()
	})
	if err != nil {
		return otelutil.RecordError(span, err)
	}

	c.publish(ctx, EventOfferRejected, offer, "")
	return nil
}

// SettleOutcome reports what a settle call did. Failure is nil when the
// adapter moved the value; otherwise it carries the captured adapter
// failure. In both cases the offer is Settled.
type SettleOutcome struct {
	OfferID OfferID
	Failure *AdapterFailureError
}

// Settle finalizes a Pending offer and invokes its settlement adapter.
// Caller must be the recorded consumer and the settle window must not have
// elapsed.
//
// The terminal transition commits first; the adapter is invoked exactly once
// afterwards, and its failure is captured into the outcome and the event
// sink rather than returned as an error. "Settled" means an attempt was
// made and the offer is closed, not that value moved.
func (c *Coordinator) Settle(ctx context.Context, caller identity.Address, id OfferID) (SettleOutcome, error) {
	ctx, span := otelutil.Tracer.Start(ctx, "exchange.Coordinator.Settle")
	defer span.End()

	offer, err := c.ledger.Update(ctx, id, func(o *Offer) error {
		if err := authorizeConsumer(o, caller); err != nil {
			return err
		}

		seq, err := c.seq.Current(ctx)
		if err != nil {
			return fmt.Errorf("reading ordering counter: %w", err)
		}
		return o.Settle(seq, c.cfg.SettleWindow)
	})
	if err != nil {
		return SettleOutcome{}, otelutil.RecordError(span, err)
	}

	c.publish(ctx, EventOfferSettled, offer, "")

	outcome := SettleOutcome{OfferID: id}
	if err := c.invokeAdapter(ctx, offer); err != nil {
		failure := AdapterFailureError{
			Adapter: offer.Settlement.Adapter,
			Reason:  err.Error(),
			Err:     err,
		}
		outcome.Failure = &failure
		c.publish(ctx, EventSettlementFailed, offer, failure.Reason)
		return outcome, nil
	}

	c.publish(ctx, EventOfferReceipt, offer, "")
	return outcome, nil
}

func (c *Coordinator) invokeAdapter(ctx context.Context, offer *Offer) error {
	adapter, ok := c.adapters.Resolve(offer.Settlement.Adapter)
	if !ok {
		return InvalidSettlementContextError{
			Adapter:  offer.Settlement.Adapter,
			Selector: offer.Settlement.Selector,
		}
	}
	return transactIsolated(ctx, adapter, c.addr, offer.ID, offer.Settlement.Args)
}

// GetOffer returns a copy of the offer.
func (c *Coordinator) GetOffer(ctx context.Context, id OfferID) (*Offer, error) {
	return c.ledger.Get(ctx, id)
}

// OfferExists reports whether the offer id is known.
func (c *Coordinator) OfferExists(ctx context.Context, id OfferID) (bool, error) {
	return c.ledger.Exists(ctx, id)
}

func (c *Coordinator) authorizeProvider(ctx context.Context, provider string, caller identity.Address) error {
	ok, err := c.apps.IsOwner(ctx, provider, caller)
	if err != nil {
		return fmt.Errorf("resolving app %q: %w", provider, err)
	}
	if !ok {
		return UnauthorizedError{Role: RoleProvider, Caller: caller}
	}
	return nil
}

func authorizeConsumer(o *Offer, caller identity.Address) error {
	if caller != o.Consumer {
		return UnauthorizedError{Role: RoleConsumer, Caller: caller}
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, kind EventKind, offer *Offer, reason string) {
	c.events.Publish(ctx, Event{
		Kind:     kind,
		OfferID:  offer.ID,
		Provider: offer.Provider,
		Reason:   reason,
	})
}
