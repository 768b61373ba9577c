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

package identity_test

import (
	"testing"
	"time"

	"github.com/databrook/databrook/identity"
	"github.com/stretchr/testify/require"
)

func Test_ParseAddress_RoundTrip(t *testing.T) {
	addr := identity.MustRandomAddress()

	parsed, err := identity.ParseAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)
}

func Test_ParseAddress_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing prefix": "00112233445566778899aabbccddeeff00112233",
		"too short":      "0xdeadbeef",
		"not hex":        "0xzz112233445566778899aabbccddeeff00112233",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := identity.ParseAddress(input)
			require.Error(t, err)
		})
	}
}

func Test_AddressFromBytes(t *testing.T) {
	addr := identity.MustRandomAddress()

	got, err := identity.AddressFromBytes(addr[:])
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = identity.AddressFromBytes(addr[:10])
	require.Error(t, err)
}

func Test_Address_TextMarshalling(t *testing.T) {
	addr := identity.MustRandomAddress()

	text, err := addr.MarshalText()
	require.NoError(t, err)

	var decoded identity.Address
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, addr, decoded)
}

func Test_Tokens_RoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	issuer := identity.NewTokenIssuer(key, time.Minute)
	verifier := identity.NewTokenVerifier(key)

	addr := identity.MustRandomAddress()

	tok, err := issuer.Issue(addr)
	require.NoError(t, err)

	got, err := verifier.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, addr, got)
}

func Test_Tokens_WrongKey(t *testing.T) {
	issuer := identity.NewTokenIssuer([]byte("key-one"), time.Minute)
	verifier := identity.NewTokenVerifier([]byte("key-two"))

	tok, err := issuer.Issue(identity.MustRandomAddress())
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func Test_Tokens_Expired(t *testing.T) {
	key := []byte("test-signing-key")
	issuer := identity.NewTokenIssuer(key, -time.Minute)
	verifier := identity.NewTokenVerifier(key)

	tok, err := issuer.Issue(identity.MustRandomAddress())
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}
