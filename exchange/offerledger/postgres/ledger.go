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

// Package postgres backs the offer ledger with PostgreSQL. Per-offer
// linearization comes from row locks: Update runs its mutation inside a
// transaction holding SELECT ... FOR UPDATE on the offer row.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/ccoveille/go-safecast"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/databrook/databrook/exchange"
	"github.com/databrook/databrook/identity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsPath is the directory inside [Migrations] holding the goose
// migration files.
const MigrationsPath = "migrations"

// Migrations returns the schema migrations for this ledger.
func Migrations() fs.FS {
	return migrationsFS
}

// Ledger is a PostgreSQL-backed offer ledger.
type Ledger struct {
	pool *pgxpool.Pool
}

var _ exchange.OfferLedger = (*Ledger)(nil)

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

const offerColumns = "id, provider, consumer, adapter, selector, args, data_ids, state, ordered_at"

func (l *Ledger) Create(ctx context.Context, offer *exchange.Offer) error {
	row, err := toRow(offer)
	if err != nil {
		return err
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		row.id, row.provider, row.consumer, row.adapter, row.selector, row.args, row.dataIDs, row.state, row.orderedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrOfferIDCollision
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id exchange.OfferID) (*exchange.Offer, error) {
	return l.scanOffer(l.pool.QueryRow(ctx,
		"SELECT "+offerColumns+" FROM offers WHERE id = $1", id[:],
	))
}

func (l *Ledger) Exists(ctx context.Context, id exchange.OfferID) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM offers WHERE id = $1)", id[:],
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking offer existence: %w", err)
	}
	return exists, nil
}

func (l *Ledger) Update(ctx context.Context, id exchange.OfferID, fn func(*exchange.Offer) error) (*exchange.Offer, error) {
	var updated *exchange.Offer

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		offer, err := l.scanOffer(tx.QueryRow(ctx,
			"SELECT "+offerColumns+" FROM offers WHERE id = $1 FOR UPDATE", id[:],
		))
		if err != nil {
			return err
		}

		if err := fn(offer); err != nil {
			return err
		}

		row, err := toRow(offer)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE offers
			SET data_ids = $2, state = $3, ordered_at = $4, updated_at = now()
			WHERE id = $1`,
			row.id, row.dataIDs, row.state, row.orderedAt,
		)
		if err != nil {
			return fmt.Errorf("updating offer: %w", err)
		}

		updated = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// offerRow is the database representation of an offer.
type offerRow struct {
	id        []byte
	provider  string
	consumer  []byte
	adapter   []byte
	selector  string
	args      []byte
	dataIDs   [][]byte
	state     int16
	orderedAt int64
}

func toRow(offer *exchange.Offer) (*offerRow, error) {
	orderedAt, err := safecast.ToInt64(offer.OrderedAt)
	if err != nil {
		return nil, fmt.Errorf("ordering counter out of range: %w", err)
	}

	dataIDs := make([][]byte, len(offer.DataIDs))
	for i, dataID := range offer.DataIDs {
		dataIDs[i] = append([]byte(nil), dataID[:]...)
	}

	// pgx encodes a nil byte slice as SQL NULL, which the NOT NULL args
	// column rejects.
	args := offer.Settlement.Args
	if args == nil {
		args = []byte{}
	}

	return &offerRow{
		id:        offer.ID[:],
		provider:  offer.Provider,
		consumer:  offer.Consumer[:],
		adapter:   offer.Settlement.Adapter[:],
		selector:  offer.Settlement.Selector,
		args:      args,
		dataIDs:   dataIDs,
		state:     int16(offer.State),
		orderedAt: orderedAt,
	}, nil
}

func (l *Ledger) scanOffer(row pgx.Row) (*exchange.Offer, error) {
	var r offerRow
	err := row.Scan(&r.id, &r.provider, &r.consumer, &r.adapter, &r.selector, &r.args, &r.dataIDs, &r.state, &r.orderedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, exchange.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning offer: %w", err)
	}
	return fromRow(&r)
}

func fromRow(r *offerRow) (*exchange.Offer, error) {
	if len(r.id) != exchange.OfferIDLen {
		return nil, fmt.Errorf("stored offer id is %d bytes, want %d", len(r.id), exchange.OfferIDLen)
	}

	consumer, err := identity.AddressFromBytes(r.consumer)
	if err != nil {
		return nil, fmt.Errorf("stored consumer: %w", err)
	}
	adapter, err := identity.AddressFromBytes(r.adapter)
	if err != nil {
		return nil, fmt.Errorf("stored adapter: %w", err)
	}
	orderedAt, err := safecast.ToUint64(r.orderedAt)
	if err != nil {
		return nil, fmt.Errorf("stored ordering counter: %w", err)
	}

	offer := &exchange.Offer{
		Provider: r.provider,
		Consumer: consumer,
		Settlement: exchange.SettlementRef{
			Adapter:  adapter,
			Selector: r.selector,
			Args:     r.args,
		},
		DataIDs:   make([]exchange.DataID, len(r.dataIDs)),
		State:     exchange.State(r.state),
		OrderedAt: orderedAt,
	}
	copy(offer.ID[:], r.id)

	for i, raw := range r.dataIDs {
		if len(raw) != exchange.DataIDLen {
			return nil, fmt.Errorf("stored data id is %d bytes, want %d", len(raw), exchange.DataIDLen)
		}
		copy(offer.DataIDs[i][:], raw)
	}
	return offer, nil
}
