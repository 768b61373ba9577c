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

package inmem

import (
	"context"
	"sync"

	"github.com/databrook/databrook/exchange"
)

// Ledger is an in-memory offer ledger. Updates to the same offer are
// serialized on a per-offer mutex; different offers do not contend.
type Ledger struct {
	mu     sync.RWMutex
	offers map[exchange.OfferID]*entry
}

type entry struct {
	mu    sync.Mutex
	offer *exchange.Offer
}

var _ exchange.OfferLedger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		offers: make(map[exchange.OfferID]*entry),
	}
}

func (l *Ledger) Create(_ context.Context, offer *exchange.Offer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.offers[offer.ID]; ok {
		return exchange.ErrOfferIDCollision
	}

	l.offers[offer.ID] = &entry{offer: offer.Clone()}
	return nil
}

func (l *Ledger) Get(_ context.Context, id exchange.OfferID) (*exchange.Offer, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offer.Clone(), nil
}

func (l *Ledger) Exists(_ context.Context, id exchange.OfferID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.offers[id]
	return ok, nil
}

func (l *Ledger) Update(_ context.Context, id exchange.OfferID, fn func(*exchange.Offer) error) (*exchange.Offer, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// fn works on a copy so a failed update leaves no trace.
	next := e.offer.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	e.offer = next
	return next.Clone(), nil
}

func (l *Ledger) entry(id exchange.OfferID) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.offers[id]
	if !ok {
		return nil, exchange.ErrOfferNotFound
	}
	return e, nil
}
