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

	"github.com/databrook/databrook/httpfmt"
	"github.com/databrook/databrook/identity"
	"github.com/databrook/databrook/otel/otelutil"
)

// Client talks to a registry [Server]. Transport-level failures and server
// errors are retried with exponential backoff; anything the server rejected
// as a caller error is returned immediately.
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

// Register claims name for the calling identity.
func (c *Client) Register(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/apps", &registerRequest{Name: name}, nil)
}

// Unregister removes the named app. Owner-only.
func (c *Client) Unregister(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/apps/"+name, nil, nil)
}

// TransferOwnership hands the named app to newOwner. Owner-only.
func (c *Client) TransferOwnership(ctx context.Context, name string, newOwner identity.Address) error {
	return c.do(ctx, http.MethodPost, "/apps/"+name+"/transfer", &transferRequest{NewOwner: newOwner}, nil)
}

// Owner resolves the owner of the named app.
func (c *Client) Owner(ctx context.Context, name string) (identity.Address, error) {
	var res appResponse
	if err := c.do(ctx, http.MethodGet, "/apps/"+name, nil, &res); err != nil {
		return identity.Address{}, err
	}
	return res.Owner, nil
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
