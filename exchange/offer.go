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

// Package exchange implements the offer settlement protocol: the offer state
// machine, the pluggable settlement adapter capability, and the coordinator
// that drives offers through their lifecycle on behalf of authorized callers.
//
// An offer moves Neutral -> Pending -> one of Settled, Canceled or Rejected.
// Settled, Canceled and Rejected are terminal. The provider controls the
// Neutral side (adding data ids, ordering, canceling); the consumer decides
// the Pending side (settling or rejecting).
package exchange

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/databrook/databrook/identity"
)

const (
	// MaxDataIDs is the hard cap on data ids per offer.
	MaxDataIDs = 128

	// DefaultSettleWindow is the number of sequence units after ordering
	// during which an offer can still be settled.
	DefaultSettleWindow = 60
)

const (
	OfferIDLen = 8
	DataIDLen  = 20
)

// OfferID uniquely identifies an offer.
type OfferID [OfferIDLen]byte

// NewOfferID derives a fresh offer id from a v7 UUID and the offer's
// parties. The UUID's embedded timestamp keeps ids from the same process
// time-ordered; hashing in both parties makes collisions across concurrent
// preparations vanishingly unlikely.
func NewOfferID(provider string, consumer identity.Address) (OfferID, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return OfferID{}, fmt.Errorf("generating offer id: %w", err)
	}

	h := sha256.New()
	h.Write(uid[:])
	h.Write([]byte(provider))
	h.Write(consumer[:])

	var id OfferID
	copy(id[:], h.Sum(nil))
	return id, nil
}

func ParseOfferID(s string) (OfferID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return OfferID{}, fmt.Errorf("parsing offer id: %w", err)
	}
	if len(b) != OfferIDLen {
		return OfferID{}, fmt.Errorf("parsing offer id: got %d bytes, want %d", len(b), OfferIDLen)
	}

	var id OfferID
	copy(id[:], b)
	return id, nil
}

func (id OfferID) String() string {
	return hex.EncodeToString(id[:])
}

func (id OfferID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OfferID) UnmarshalText(b []byte) error {
	parsed, err := ParseOfferID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// DataID is an opaque handle to externally stored data. The exchange never
// interprets it.
type DataID [DataIDLen]byte

func ParseDataID(s string) (DataID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return DataID{}, fmt.Errorf("parsing data id: %w", err)
	}
	if len(b) != DataIDLen {
		return DataID{}, fmt.Errorf("parsing data id: got %d bytes, want %d", len(b), DataIDLen)
	}

	var id DataID
	copy(id[:], b)
	return id, nil
}

func (id DataID) String() string {
	return hex.EncodeToString(id[:])
}

func (id DataID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *DataID) UnmarshalText(b []byte) error {
	parsed, err := ParseDataID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// State is an offer's lifecycle state.
type State uint8

const (
	StateNeutral State = iota
	StatePending
	StateSettled
	StateCanceled
	StateRejected
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateCanceled, StateRejected:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateNeutral:
		return "neutral"
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	case StateCanceled:
		return "canceled"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// SettlementRef pins an offer to a settlement adapter: which adapter to
// invoke, by which method, and with which pre-agreed arguments. It is fixed
// at preparation time and never changes, so the consumer settles exactly the
// terms it was shown.
type SettlementRef struct {
	// Adapter is the address the adapter registered under.
	Adapter identity.Address
	// Selector names the adapter method to invoke.
	Selector string
	// Args are the pre-encoded static arguments passed to the adapter.
	Args []byte
}

// Offer is the central entity of the protocol.
//
// The zero OrderedAt is not meaningful on its own; it is only read once the
// offer has left Neutral.
type Offer struct {
	ID         OfferID
	Provider   string
	Consumer   identity.Address
	Settlement SettlementRef
	DataIDs    []DataID
	State      State
	// OrderedAt is the ordering counter value recorded at the
	// Neutral -> Pending transition. Immutable afterwards.
	OrderedAt uint64
}

// NewOffer creates a Neutral offer. The data id cap is checked here and on
// every later append.
func NewOffer(id OfferID, provider string, consumer identity.Address, ref SettlementRef, dataIDs []DataID) (*Offer, error) {
	if len(dataIDs) > MaxDataIDs {
		return nil, LimitExceededError{Count: len(dataIDs), Max: MaxDataIDs}
	}

	return &Offer{
		ID:         id,
		Provider:   provider,
		Consumer:   consumer,
		Settlement: ref,
		DataIDs:    slices.Clone(dataIDs),
		State:      StateNeutral,
	}, nil
}

// AddDataIDs appends data ids to a Neutral offer.
func (o *Offer) AddDataIDs(ids []DataID) error {
	if o.State != StateNeutral {
		return StateMismatchError{Current: o.State, Required: StateNeutral}
	}
	if len(o.DataIDs)+len(ids) > MaxDataIDs {
		return LimitExceededError{Count: len(o.DataIDs) + len(ids), Max: MaxDataIDs}
	}

	o.DataIDs = append(o.DataIDs, ids...)
	return nil
}

// Order transitions Neutral -> Pending, recording the ordering counter.
func (o *Offer) Order(currentSeq uint64) error {
	if o.State != StateNeutral {
		return StateMismatchError{Current: o.State, Required: StateNeutral}
	}

	o.State = StatePending
	o.OrderedAt = currentSeq
	return nil
}

// Cancel transitions Pending -> Canceled.
func (o *Offer) Cancel() error {
	if o.State != StatePending {
		return StateMismatchError{Current: o.State, Required: StatePending}
	}

	o.State = StateCanceled
	return nil
}

// Reject transitions Pending -> Rejected.
func (o *Offer) Reject() error {
	if o.State != StatePending {
		return StateMismatchError{Current: o.State, Required: StatePending}
	}

	o.State = StateRejected
	return nil
}

// Settle transitions Pending -> Settled if the settle window has not
// elapsed. The expiry check runs strictly before any settlement side effect;
// an expired offer stays Pending until it is canceled or rejected.
func (o *Offer) Settle(currentSeq, window uint64) error {
	if o.State != StatePending {
		return StateMismatchError{Current: o.State, Required: StatePending}
	}
	if currentSeq-o.OrderedAt > window {
		return ErrOfferExpired
	}

	o.State = StateSettled
	return nil
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	clone := *o
	clone.DataIDs = slices.Clone(o.DataIDs)
	clone.Settlement.Args = slices.Clone(o.Settlement.Args)
	return &clone
}
