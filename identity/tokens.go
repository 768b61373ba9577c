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

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long issued bearer tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidToken indicates a bearer token could not be verified.
var ErrInvalidToken = errors.New("invalid bearer token")

// TokenIssuer mints bearer tokens that resolve back to an [Address].
//
// Tokens are HS256 JWTs with the address as the subject. Both ends of the
// HTTP surface share the signing key; the scheme is deliberately simple
// since any identity source satisfying the verifier interface can replace it.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		key: key,
		ttl: ttl,
	}
}

// Issue mints a signed bearer token for the given address.
func (i *TokenIssuer) Issue(addr Address) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   addr.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	})

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenVerifier resolves bearer tokens back to addresses.
type TokenVerifier struct {
	key []byte
}

func NewTokenVerifier(key []byte) *TokenVerifier {
	return &TokenVerifier{
		key: key,
	}
}

// Verify checks the token signature and expiry and returns the caller address.
func (v *TokenVerifier) Verify(tokenString string) (Address, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	addr, err := ParseAddress(sub)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return addr, nil
}
