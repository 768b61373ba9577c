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

import "context"

// OfferLedger owns the authoritative table of offers. The coordinator never
// mutates an offer directly; every write goes through Update so the ledger
// can linearize operations per offer id.
type OfferLedger interface {
	// Create stores a new offer. Must return [ErrOfferIDCollision] if the
	// id is already taken.
	Create(ctx context.Context, offer *Offer) error

	// Get returns a copy of the offer. Mutating the result does not
	// affect the ledger. Must return [ErrOfferNotFound] for unknown ids.
	Get(ctx context.Context, id OfferID) (*Offer, error)

	// Exists reports whether the offer id is known.
	Exists(ctx context.Context, id OfferID) (bool, error)

	// Update applies fn to the stored offer under the ledger's per-offer
	// serialization: no two Update calls for the same id run fn
	// concurrently, and fn sees the latest committed state. If fn returns
	// an error the offer is left unchanged and the error is returned
	// as-is. On success Update returns a copy of the committed offer.
	// Must return [ErrOfferNotFound] for unknown ids.
	Update(ctx context.Context, id OfferID, fn func(*Offer) error) (*Offer, error)
}
