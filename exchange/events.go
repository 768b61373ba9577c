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
	"slices"
	"sync"
)

// EventKind labels a lifecycle event.
type EventKind string

const (
	EventOfferPrepared  EventKind = "offer_prepared"
	EventOfferPresented EventKind = "offer_presented"
	EventOfferCanceled  EventKind = "offer_canceled"
	EventOfferSettled   EventKind = "offer_settled"
	EventOfferRejected  EventKind = "offer_rejected"
	// EventOfferReceipt is emitted after a settlement transfer actually
	// completed. An offer can be settled without a receipt when its
	// adapter failed.
	EventOfferReceipt EventKind = "offer_receipt"
	// EventSettlementFailed carries the adapter's failure reason for a
	// settled offer whose transfer did not happen.
	EventSettlementFailed EventKind = "settlement_failed"
)

// Event is a lifecycle notification. Reason is set for
// [EventSettlementFailed] only.
type Event struct {
	Kind     EventKind
	OfferID  OfferID
	Provider string
	Reason   string
}

// Sink receives lifecycle events. Publish must not block on slow consumers;
// the coordinator calls it inline.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Recorder is a Sink that keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ByKind returns the published events of one kind, in publish order.
func (r *Recorder) ByKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// LogSink is a Sink that writes events to a [slog.Logger].
type LogSink struct {
	log *slog.Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) {
	attrs := []any{
		"event", string(ev.Kind),
		"offer_id", ev.OfferID.String(),
		"provider", ev.Provider,
	}

	if ev.Kind == EventSettlementFailed {
		attrs = append(attrs, "reason", ev.Reason)
		s.log.WarnContext(ctx, "offer settlement failed", attrs...)
		return
	}

	s.log.InfoContext(ctx, "offer lifecycle event", attrs...)
}

// Sinks fans one event out to several sinks in order.
type Sinks []Sink

var _ Sink = (Sinks)(nil)

func (s Sinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		sink.Publish(ctx, ev)
	}
}
