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
	"errors"
	"fmt"

	"github.com/databrook/databrook/identity"
)

var (
	// ErrOfferNotFound indicates an unknown offer id.
	ErrOfferNotFound = errors.New("offer does not exist")

	// ErrOfferIDCollision indicates an offer id is already taken. Ids are
	// derived from random UUIDs so this is an unrecoverable fault, not a
	// caller error.
	ErrOfferIDCollision = errors.New("offer id collision")

	// ErrOfferExpired indicates a settle attempt past the settle window.
	// The offer stays Pending; it can still be canceled or rejected.
	ErrOfferExpired = errors.New("order is outdated")
)

// Caller roles named by authorization errors.
const (
	RoleProvider = "provider"
	RoleConsumer = "consumer"
	RoleExchange = "exchange"
)

// UnauthorizedError indicates the caller does not hold the role the
// operation requires.
type UnauthorizedError struct {
	Role   string
	Caller identity.Address
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("caller %s is not the %s of this offer", e.Caller, e.Role)
}

// StateMismatchError indicates an operation attempted in the wrong lifecycle
// state. Required names the state the operation is valid in.
type StateMismatchError struct {
	Current  State
	Required State
}

func (e StateMismatchError) Error() string {
	return fmt.Sprintf("%s state only, offer is %s", e.Required, e.Current)
}

// LimitExceededError indicates an offer's data ids would exceed the cap.
type LimitExceededError struct {
	Count int
	Max   int
}

func (e LimitExceededError) Error() string {
	return fmt.Sprintf("%d data ids exceeds the maximum of %d", e.Count, e.Max)
}

// InvalidSettlementContextError indicates a settlement reference that does
// not resolve to a live adapter, or an adapter invoked against an offer that
// was not prepared for it.
type InvalidSettlementContextError struct {
	Adapter  identity.Address
	Selector string
}

func (e InvalidSettlementContextError) Error() string {
	return fmt.Sprintf("invalid settlement context: adapter %s selector %q", e.Adapter, e.Selector)
}

// AdapterFailureError carries a settlement adapter's domain failure. It is
// the one failure that does not abort its operation: the offer commits to
// Settled and the failure is reported through the event sink instead.
type AdapterFailureError struct {
	Adapter identity.Address
	Reason  string
	Err     error
}

func (e AdapterFailureError) Error() string {
	return fmt.Sprintf("settlement adapter %s failed: %s", e.Adapter, e.Reason)
}

func (e AdapterFailureError) Unwrap() error {
	return e.Err
}
