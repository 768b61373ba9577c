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

// Package httpapi exposes the exchange coordinator over a JSON HTTP API.
//
// Write operations authenticate the caller with a bearer token; the token's
// subject is the caller address handed to the coordinator. Reads are open.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/databrook/databrook/appreg"
	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/httpfmt"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
)

// Server serves the offer settlement protocol HTTP API.
type Server struct {
	coord    *exchange.Coordinator
	verifier *identity.TokenVerifier
	handler  http.Handler
}

func NewServer(coord *exchange.Coordinator, verifier *identity.TokenVerifier) *Server {
	s := &Server{
		coord:    coord,
		verifier: verifier,
	}

	mux := http.NewServeMux()
	otelutil.ServeMuxHandleFunc(mux, "GET /health", httpfmt.JSONHealthCheck)
	otelutil.ServeMuxHandle(mux, "POST /offers", s.auth(s.prepareHandler()))
	otelutil.ServeMuxHandle(mux, "POST /offers/{id}/data-ids", s.auth(s.addDataIDsHandler()))
	otelutil.ServeMuxHandle(mux, "POST /offers/{id}/order", s.auth(s.orderHandler()))
	otelutil.ServeMuxHandle(mux, "POST /offers/{id}/cancel", s.auth(s.cancelHandler()))
	otelutil.ServeMuxHandle(mux, "POST /offers/{id}/settle", s.auth(s.settleHandler()))
	otelutil.ServeMuxHandle(mux, "POST /offers/{id}/reject", s.auth(s.rejectHandler()))
	otelutil.ServeMuxHandle(mux, "GET /offers/{id}", s.getOfferHandler())
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

type prepareRequest struct {
	Provider string             `json:"provider"`
	Consumer identity.Address   `json:"consumer"`
	Adapter  identity.Address   `json:"adapter"`
	Selector string             `json:"selector"`
	Args     []byte             `json:"args,omitempty"`
	DataIDs  []exchange.DataID  `json:"data_ids,omitempty"`
}

type prepareResponse struct {
	OfferID exchange.OfferID `json:"offer_id"`
}

func (s *Server) prepareHandler() http.Handler {
	return httpfmt.JSONHandler(func(r *http.Request, in *prepareRequest) (*prepareResponse, error) {
		id, err := s.coord.Prepare(r.Context(), callerFrom(r.Context()), in.Provider, in.Consumer, exchange.SettlementRef{
			Adapter:  in.Adapter,
			Selector: in.Selector,
			Args:     in.Args,
		}, in.DataIDs)
		if err != nil {
			return nil, convertError(err)
		}
		return &prepareResponse{OfferID: id}, nil
	})
}

type addDataIDsRequest struct {
	DataIDs []exchange.DataID `json:"data_ids"`
}

func (s *Server) addDataIDsHandler() http.Handler {
	return httpfmt.JSONHandlerInputOnly(func(r *http.Request, in *addDataIDsRequest) error {
		id, err := pathOfferID(r)
		if err != nil {
			return err
		}
		return convertError(s.coord.AddDataIDs(r.Context(), callerFrom(r.Context()), id, in.DataIDs))
	})
}

func (s *Server) orderHandler() http.Handler {
	return s.transitionHandler(s.coord.Order)
}

func (s *Server) cancelHandler() http.Handler {
	return s.transitionHandler(s.coord.Cancel)
}

func (s *Server) rejectHandler() http.Handler {
	return s.transitionHandler(s.coord.Reject)
}

func (s *Server) transitionHandler(op func(context.Context, identity.Address, exchange.OfferID) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathOfferID(r)
		if err != nil {
			httpfmt.JSONBadRequest(w, r, "invalid offer id")
			return
		}

		if err := op(r.Context(), callerFrom(r.Context()), id); err != nil {
			writeError(w, r, convertError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

type settleResponse struct {
	OfferID exchange.OfferID `json:"offer_id"`
	Settled bool             `json:"settled"`
	// FailureReason is set when the offer settled but the adapter did not
	// move the value.
	FailureReason string `json:"failure_reason,omitempty"`
}

func (s *Server) settleHandler() http.Handler {
	return httpfmt.JSONHandlerNoInput(func(r *http.Request) (*settleResponse, error) {
		id, err := pathOfferID(r)
		if err != nil {
			return nil, err
		}

		outcome, err := s.coord.Settle(r.Context(), callerFrom(r.Context()), id)
		if err != nil {
			return nil, convertError(err)
		}

		res := &settleResponse{OfferID: outcome.OfferID, Settled: true}
		if outcome.Failure != nil {
			res.FailureReason = outcome.Failure.Reason
		}
		return res, nil
	})
}

type offerResponse struct {
	ID        exchange.OfferID  `json:"id"`
	Provider  string            `json:"provider"`
	Consumer  identity.Address  `json:"consumer"`
	Adapter   identity.Address  `json:"adapter"`
	Selector  string            `json:"selector"`
	Args      []byte            `json:"args,omitempty"`
	DataIDs   []exchange.DataID `json:"data_ids,omitempty"`
	State     string            `json:"state"`
	OrderedAt uint64            `json:"ordered_at"`
}

func (s *Server) getOfferHandler() http.Handler {
	return httpfmt.JSONHandlerNoInput(func(r *http.Request) (*offerResponse, error) {
		id, err := pathOfferID(r)
		if err != nil {
			return nil, err
		}

		offer, err := s.coord.GetOffer(r.Context(), id)
		if err != nil {
			return nil, convertError(err)
		}

		return &offerResponse{
			ID:        offer.ID,
			Provider:  offer.Provider,
			Consumer:  offer.Consumer,
			Adapter:   offer.Settlement.Adapter,
			Selector:  offer.Settlement.Selector,
			Args:      offer.Settlement.Args,
			DataIDs:   offer.DataIDs,
			State:     offer.State.String(),
			OrderedAt: offer.OrderedAt,
		}, nil
	})
}

func pathOfferID(r *http.Request) (exchange.OfferID, error) {
	id, err := exchange.ParseOfferID(r.PathValue("id"))
	if err != nil {
		return exchange.OfferID{}, httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: "invalid offer id",
			StatusCode:    http.StatusBadRequest,
		}
	}
	return id, nil
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

	var (
		unauthorized exchange.UnauthorizedError
		mismatch     exchange.StateMismatchError
		limit        exchange.LimitExceededError
		invalidCtx   exchange.InvalidSettlementContextError
	)

	switch {
	case errors.As(err, &unauthorized):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: unauthorized.Error(),
			StatusCode:    http.StatusForbidden,
		}
	case errors.Is(err, exchange.ErrOfferNotFound), errors.Is(err, appreg.ErrAppNotFound):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: err.Error(),
			StatusCode:    http.StatusNotFound,
		}
	case errors.As(err, &mismatch):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: mismatch.Error(),
			StatusCode:    http.StatusConflict,
		}
	case errors.Is(err, exchange.ErrOfferExpired):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: err.Error(),
			StatusCode:    http.StatusGone,
		}
	case errors.As(err, &limit), errors.As(err, &invalidCtx):
		return httpfmt.ErrorWithStatusCode{
			Err:           err,
			PublicMessage: err.Error(),
			StatusCode:    http.StatusUnprocessableEntity,
		}
	default:
		return err
	}
}
