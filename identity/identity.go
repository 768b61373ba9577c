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

// Package identity defines the opaque caller identities used throughout
// the marketplace. An [Address] says nothing about the scheme that produced
// it; any registry mapping credentials to addresses can act as the source.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the fixed width of an identity address in bytes.
const AddressLen = 20

// Address identifies a single party: the owner of an application, a
// consumer, or a settlement adapter. Addresses are compared by value.
type Address [AddressLen]byte

// ParseAddress parses a 0x-prefixed hex representation of an address.
func ParseAddress(s string) (Address, error) {
	var addr Address

	raw, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return addr, fmt.Errorf("address %q is missing the 0x prefix", s)
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return addr, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(b) != AddressLen {
		return addr, fmt.Errorf("want address of length %d, but got %d", AddressLen, len(b))
	}

	copy(addr[:], b)
	return addr, nil
}

// AddressFromBytes converts a raw byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLen {
		return addr, fmt.Errorf("want address of length %d, but got %d", AddressLen, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// RandomAddress returns a fresh random address. Useful for tests and for
// assigning addresses to in-process components such as settlement adapters.
func RandomAddress() (Address, error) {
	var addr Address
	_, err := rand.Read(addr[:])
	if err != nil {
		return addr, fmt.Errorf("failed to generate address: %w", err)
	}
	return addr, nil
}

// MustRandomAddress returns a fresh random address or panics. Should only be
// used in tests.
func MustRandomAddress() Address {
	addr, err := RandomAddress()
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	addr, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
