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
	"fmt"
	"sync"

	"github.com/databrook/databrook/identity"
)

// SettlementAdapter is the capability every settlement method implements.
// One implementation exists per method (token transfer, invoice, ...); the
// offer's [SettlementRef] selects which one the coordinator invokes.
type SettlementAdapter interface {
	// Supports reports whether the adapter handles the given call
	// selector. Checked at offer preparation so a dangling selector is
	// caught before any party commits.
	Supports(selector string) bool

	// Transact performs the value transfer for one settled offer. args
	// are exactly the settlement arguments recorded at preparation time.
	//
	// Must return an error wrapping [UnauthorizedError] when caller is
	// not the exchange the adapter trusts. Domain failures (insufficient
	// funds and the like) are ordinary errors; the coordinator captures
	// them without unwinding the offer's terminal state.
	Transact(ctx context.Context, caller identity.Address, offerID OfferID, args []byte) error
}

// AdapterResolver maps adapter addresses to live implementations. It stands
// in for "the adapter is deployed at this address": a [SettlementRef] whose
// address does not resolve here cannot be used to prepare an offer.
type AdapterResolver struct {
	mu       sync.RWMutex
	adapters map[identity.Address]SettlementAdapter
}

func NewAdapterResolver() *AdapterResolver {
	return &AdapterResolver{
		adapters: make(map[identity.Address]SettlementAdapter),
	}
}

// Register makes the adapter resolvable at addr.
func (r *AdapterResolver) Register(addr identity.Address, adapter SettlementAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[addr] = adapter
}

// Resolve returns the adapter registered at addr.
func (r *AdapterResolver) Resolve(addr identity.Address) (SettlementAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[addr]
	return adapter, ok
}

// transactIsolated invokes the adapter with panic containment. A panicking
// adapter must not take down the settle operation that already committed its
// terminal state.
func transactIsolated(ctx context.Context, adapter SettlementAdapter, caller identity.Address, offerID OfferID, args []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("settlement adapter panicked: %v", r)
		}
	}()

	return adapter.Transact(ctx, caller, offerID, args)
}
