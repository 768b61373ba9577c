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

// Package sequence provides the global ordering counter the exchange uses to
// timestamp orders and check settlement expiry.
//
// The counter is the logical-clock equivalent of a block height: any source
// will do as long as it is monotonically increasing and every participant
// observes a consistent value.
package sequence

import (
	"context"
	"sync/atomic"
	"time"
)

// Source exposes the current ordering counter value.
//
// Implementations must be monotone: two reads on the same Source never go
// backwards. Reads may happen concurrently with advances.
type Source interface {
	Current(ctx context.Context) (uint64, error)
}

// Clock is an in-process logical clock. It starts at zero and only moves
// forward through explicit Advance calls.
type Clock struct {
	current atomic.Uint64
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Current(_ context.Context) (uint64, error) {
	return c.current.Load(), nil
}

// Advance moves the clock forward by one and returns the new value.
func (c *Clock) Advance() uint64 {
	return c.current.Add(1)
}

// AdvanceBy moves the clock forward by n and returns the new value.
func (c *Clock) AdvanceBy(n uint64) uint64 {
	return c.current.Add(n)
}

// Ticking wraps a [Clock] and advances it on a fixed interval, giving
// single-node deployments a block-height stand-in without an external
// sequencing service.
type Ticking struct {
	*Clock

	done   chan struct{}
	closed atomic.Bool
}

// NewTicking starts a clock that advances every interval until Stop is called.
func NewTicking(interval time.Duration) *Ticking {
	t := &Ticking{
		Clock: NewClock(),
		done:  make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Advance()
			case <-t.done:
				return
			}
		}
	}()

	return t
}

// Stop halts the background advancing. Safe to call more than once.
func (t *Ticking) Stop() {
	if t.closed.CompareAndSwap(false, true) {
		close(t.done)
	}
}
