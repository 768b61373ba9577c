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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// AsyncSink decouples event delivery from the settlement path. Publish
// enqueues and returns immediately; a fixed set of workers drains the queue
// into the inner sink. When the queue is full the event is dropped rather
// than blocking a transition.
type AsyncSink struct {
	inner Sink
	queue chan Event

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Sink = (*AsyncSink)(nil)

// NewAsyncSink starts workers goroutines draining into inner. queueLen
// bounds how many undelivered events can be pending at once.
func NewAsyncSink(inner Sink, queueLen, workers int) *AsyncSink {
	if workers < 1 {
		workers = 1
	}

	s := &AsyncSink{
		inner: inner,
		queue: make(chan Event, queueLen),
	}

	for range workers {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()
	for ev := range s.queue {
		// the publishing request's context is long gone by the time a
		// worker picks the event up
		s.inner.Publish(context.Background(), ev)
	}
}

func (s *AsyncSink) Publish(ctx context.Context, ev Event) {
	if s.closed.Load() {
		return
	}

	select {
	case s.queue <- ev:
	default:
		slog.WarnContext(ctx, "event queue full, dropping event",
			"event", string(ev.Kind),
			"offer_id", ev.OfferID.String())
	}
}

// Close stops accepting events and blocks until the queue is drained.
// Publishers must have stopped before Close is called. Safe to call more
// than once.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.queue)
	})
	s.wg.Wait()
}
