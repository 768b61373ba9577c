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

// Package httpapi exposes the application registry over a JSON HTTP API.
//
// Registration is open to any authenticated caller claiming an unused name;
// unregister and ownership transfer are owner-only, enforced by the
// registry itself. Owner lookups are open.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/databrook/databrook/appreg"
	"github.com/databrook/databrook/httpfmt"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
)

// Invalidator drops cached directory entries after a mutation. Satisfied by
// [appreg.Cached].
type Invalidator interface {
	Invalidate(name string)
}

// Server serves the application registry HTTP API.
type Server struct {
	registry appreg.Registry
	cache    Invalidator
	verifier *identity.TokenVerifier
	handler  http.Handler
}

// NewServer wires the registry behind HTTP handlers. cache may be nil when
// no read-through cache sits in front of the registry.
func NewServer(registry appreg.Registry, verifier *identity.TokenVerifier, cache Invalidator) *Server {
	s := &Server{
		registry: registry,
		cache:    cache,
		verifier: verifier,
	}

	mux := http.NewServeMux()
	otelutil.ServeMuxHandle(mux, "POST /apps", s.auth(s.registerHandler()))
	otelutil.ServeMuxHandle(mux, "DELETE /apps/{name}", s.auth(s.unregisterHandler()))
	otelutil.ServeMuxHandle(mux, "POST /apps/{name}/transfer", s.auth(s.transferHandler()))
	otelutil.ServeMuxHandle(mux, "GET /apps/{name}", s.getAppHandler())
	s.handler = mux

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type contextKey int

const callerKey contextKey = 1

func callerFrom(ctx context.Context) identity.Address {
	caller, _ := ctx.Value(callerKey).(identity.Address)
	return caller
}

// auth verifies the bearer token and stashes the caller address in the
// request context.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			httpfmt.JSONError(w, r, "missing bearer token", http.StatusUnauthorized)
			return
		}

		caller, err := s.verifier.Verify(token)
		if err != nil {
			httpfmt.JSONError(w, r, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// invalidate drops the cached entry for name, if a cache is wired.
func (s *Server) invalidate(name string) {
	if s.cache != nil {
		s.cache.Invalidate(name)
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

func (s *Server) registerHandler() http.Handler {
	return httpfmt.JSONHandlerInputOnly(func(r *http.Request, in *registerRequest) error {
		if in.Name == "" {
			return httpfmt.ErrorWithStatusCode{
				Err:           errors.New("app name must not be empty"),
				PublicMessage: "app name must not be empty",
				StatusCode:    http.StatusUnprocessableEntity,
			}
		}

		if err := s.registry.Register(r.Context(), in.Name, callerFrom(r.Context())); err != nil {
			return convertError(err)
		}
		s.invalidate(in.Name)
		return nil
	})
}

func (s *Server) unregisterHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := s.registry.Unregister(r.Context(), name, callerFrom(r.Context())); err != nil {
			writeError(w, r, convertError(err))
			return
		}
		s.invalidate(name)
		w.WriteHeader(http.StatusNoContent)
	})
}

type transferRequest struct {
	NewOwner identity.Address `json:"new_owner"`
}

func (s *Server) transferHandler() http.Handler {
	return httpfmt.JSONHandlerInputOnly(func(r *http.Request, in *transferRequest) error {
		name := r.PathValue("name")
		err := s.registry.TransferOwnership(r.Context(), name, callerFrom(r.Context()), in.NewOwner)
		if err != nil {
			return convertError(err)
		}
		s.invalidate(name)
		return nil
	})
}

type appResponse struct {
	Name  string           `json:"name"`
	Owner identity.Address `json:"owner"`
}

func (s *Server) getAppHandler() http.Handler {
	return httpfmt.JSONHandlerNoInput(func(r *http.Request) (*appResponse, error) {
		name := r.PathValue("name")
		owner, err := s.registry.Owner(r.Context(), name)
		if err != nil {
			return nil, convertError(err)
		}
		return &appResponse{Name: name, Owner: owner}, nil
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var statusCodeErr httpfmt.ErrorWithStatusCode
	if errors.As(err, &statusCodeErr) {
		httpfmt.JSONError(w, r, statusCodeErr.PublicMessage, statusCodeErr.StatusCode)
		return
	}
	httpfmt.JSONServerError(w, r)
}

func convertError(err error) error {
	if err == nil {
		return nil
	}

	var notOwner appreg.NotOwnerError

	switch {
	case errors.As(err, &notOwner):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: notOwner.Error(),
			StatusCode:    http.StatusForbidden,
		}
	case errors.Is(err, appreg.ErrAppNotFound):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: err.Error(),
			StatusCode:    http.StatusNotFound,
		}
	case errors.Is(err, appreg.ErrAppExists):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: err.Error(),
			StatusCode:    http.StatusConflict,
		}
	default:
		return err
	}
}
