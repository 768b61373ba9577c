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

// Package httpfmt provides helpers for JSON request and response handling
// shared by the HTTP APIs in this module.
package httpfmt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JSON writes the data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, data any, code int) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(r.Context(), "error marshalling json response", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	_, err = w.Write(body)
	if err != nil {
		slog.ErrorContext(r.Context(), "error writing json response", "error", err)
	}
}

// JSONError is a convenience function that writes a json error response.
func JSONError(w http.ResponseWriter, r *http.Request, msg string, code int) {
	type body struct {
		Error string `json:"error"`
	}

	// Mark span from calling function as errored.
	span := trace.SpanFromContext(r.Context())
	span.SetStatus(codes.Error, msg)

	JSON(w, r, body{Error: msg}, code)
}

// JSONBadRequest is a convenience function that returns a status 400 response.
func JSONBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	JSONError(w, r, msg, http.StatusBadRequest)
}

// JSONServerError is a convenience function that returns a status 500 response
// without exposing error information to the client.
func JSONServerError(w http.ResponseWriter, r *http.Request) {
	JSONError(w, r, "internal server error", http.StatusInternalServerError)
}

// JSONHealthCheck is a convenience function that writes a status 200 healthcheck response.
// useful for simple services that don't have dependencies.
func JSONHealthCheck(w http.ResponseWriter, r *http.Request) {
	type body struct {
		Status string `json:"status"`
	}

	JSON(w, r, body{Status: "OK"}, http.StatusOK)
}

// DecodeJSONErrorAsError is a convenience function that decodes a json error body.
func DecodeJSONErrorAsError(r io.Reader) (error, error) {
	type body struct {
		Error string `json:"error"`
	}

	tgt := body{}
	dec := json.NewDecoder(r)
	err := dec.Decode(&tgt)
	if err != nil {
		return nil, err
	}

	return errors.New(tgt.Error), nil
}

// JSONHandler decodes the request body into VReq, calls targetFunc, and
// writes its result as JSON. Handler errors map to responses through
// [ErrorWithStatusCode]; anything else becomes an opaque 500.
func JSONHandler[VReq any, VRes any](targetFunc func(r *http.Request, in *VReq) (*VRes, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeRequest[VReq](w, r)
		if !ok {
			return
		}

		out, err := targetFunc(r, in)
		if err != nil {
			writeHandlerError(w, r, err)
			return
		}

		JSON(w, r, out, http.StatusOK)
	})
}

// JSONHandlerInputOnly is [JSONHandler] for operations without a response
// body; success is a 204.
func JSONHandlerInputOnly[VReq any](targetFunc func(r *http.Request, in *VReq) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeRequest[VReq](w, r)
		if !ok {
			return
		}

		if err := targetFunc(r, in); err != nil {
			writeHandlerError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// JSONHandlerNoInput is [JSONHandler] for operations whose input comes
// entirely from the URL.
func JSONHandlerNoInput[VRes any](targetFunc func(r *http.Request) (*VRes, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := targetFunc(r)
		if err != nil {
			writeHandlerError(w, r, err)
			return
		}

		JSON(w, r, out, http.StatusOK)
	})
}

func decodeRequest[VReq any](w http.ResponseWriter, r *http.Request) (*VReq, bool) {
	if r.Header.Get("Content-Type") != "application/json" {
		slog.ErrorContext(r.Context(), "invalid content-type")
		JSONBadRequest(w, r, "invalid Content-Type, requires 'application/json'")
		return nil, false
	}

	in := new(VReq)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(in); err != nil {
		slog.ErrorContext(r.Context(), "failed to decode body", "error", err)
		JSONBadRequest(w, r, "invalid json body")
		return nil, false
	}
	return in, true
}

func writeHandlerError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "handler failed", "error", err)

	var statusCodeErr ErrorWithStatusCode
	if errors.As(err, &statusCodeErr) {
		JSONError(w, r, statusCodeErr.PublicMessage, statusCodeErr.StatusCode)
		return
	}
	JSONServerError(w, r)
}
