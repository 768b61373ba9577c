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

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/httpfmt"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
)

// Client talks to a [Server]. Transport-level failures and server errors are
// retried with exponential backoff; anything the server rejected as a caller
// error is returned immediately.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, authenticating with
// the given bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Transport: otelutil.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Prepare(ctx context.Context, provider string, consumer identity.Address, ref exchange.SettlementRef, dataIDs []exchange.DataID) (exchange.OfferID, error) {
	var res prepareResponse
	err := c.do(ctx, http.MethodPost, "/offers", &prepareRequest{
		Provider: provider,
		Consumer: consumer,
		Adapter:  ref.Adapter,
		Selector: ref.Selector,
		Args:     ref.Args,
		DataIDs:  dataIDs,
	}, &res)
	if err != nil {
		return exchange.OfferID{}, err
	}
	return res.OfferID, nil
}

func (c *Client) AddDataIDs(ctx context.Context, id exchange.OfferID, dataIDs []exchange.DataID) error {
	return c.do(ctx, http.MethodPost, "/offers/"+id.String()+"/data-ids", &addDataIDsRequest{DataIDs: dataIDs}, nil)
}

func (c *Client) Order(ctx context.Context, id exchange.OfferID) error {
	return c.do(ctx, http.MethodPost, "/offers/"+id.String()+"/order", nil, nil)
}

func (c *Client) Cancel(ctx context.Context, id exchange.OfferID) error {
	return c.do(ctx, http.MethodPost, "/offers/"+id.String()+"/cancel", nil, nil)
}

func (c *Client) Reject(ctx context.Context, id exchange.OfferID) error {
	return c.do(ctx, http.MethodPost, "/offers/"+id.String()+"/reject", nil, nil)
}

// Settle finalizes the offer. A nil error with a non-empty FailureReason
// means the offer closed but the settlement transfer did not happen.
func (c *Client) Settle(ctx context.Context, id exchange.OfferID) (*SettleResult, error) {
	var res settleResponse
	if err := c.do(ctx, http.MethodPost, "/offers/"+id.String()+"/settle", nil, &res); err != nil {
		return nil, err
	}
	return &SettleResult{
		OfferID:       res.OfferID,
		FailureReason: res.FailureReason,
	}, nil
}

// SettleResult mirrors the server's settle response.
type SettleResult struct {
	OfferID       exchange.OfferID
	FailureReason string
}

// GetOffer fetches one offer.
func (c *Client) GetOffer(ctx context.Context, id exchange.OfferID) (*Offer, error) {
	var res offerResponse
	if err := c.do(ctx, http.MethodGet, "/offers/"+id.String(), nil, &res); err != nil {
		return nil, err
	}
	return &Offer{
		ID:        res.ID,
		Provider:  res.Provider,
		Consumer:  res.Consumer,
		Adapter:   res.Adapter,
		Selector:  res.Selector,
		Args:      res.Args,
		DataIDs:   res.DataIDs,
		State:     res.State,
		OrderedAt: res.OrderedAt,
	}, nil
}

// Offer is the client-side offer projection. State is the server's state
// name, e.g. "neutral" or "pending".
type Offer struct {
	ID        exchange.OfferID
	Provider  string
	Consumer  identity.Address
	Adapter   identity.Address
	Selector  string
	Args      []byte
	DataIDs   []exchange.DataID
	State     string
	OrderedAt uint64
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// network errors are worth retrying
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			err := fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
			return httpfmt.ParseBodyAsError(resp, err)
		case resp.StatusCode >= 400:
			err := fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
			return backoff.Permanent(httpfmt.ParseBodyAsError(resp, err))
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}
