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

// Package inttest holds helpers for integration tests: disposable postgres
// databases via integresql, and test-scoped logging.
package inttest

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"testing"

	integresql "github.com/allaboutapps/integresql-client-go"
	"github.com/allaboutapps/integresql-client-go/pkg/util"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

// DB hands out a migrated, test-scoped postgres database. Databases come
// from an integresql server, which clones them from a template keyed by a
// hash of the migration files, so repeated runs skip re-migrating.
//
// Tests are skipped when no integresql server is configured; unit tests must
// not depend on one being around.
func DB(t *testing.T, migrationPath string, migrations fs.FS) *pgxpool.Pool {
	t.Helper()

	require.NotEmpty(t, migrationPath, "migrationPath must not be empty")

	baseURL := os.Getenv("INTEGRESQL_CLIENT_BASE_URL")
	if baseURL == "" {
		t.Skip("INTEGRESQL_CLIENT_BASE_URL not set, skipping database test")
	}

	c, err := integresql.NewClient(integresql.ClientConfig{
		BaseURL:    baseURL,
		APIVersion: util.GetEnv("INTEGRESQL_CLIENT_API_VERSION", "v1"),
	})
	require.NoError(t, err, "cannot create integresql client")

	// The template hash covers every migration file, so schema changes
	// invalidate the cached template.
	hash, err := util.GetTemplateHash(migrationPath)
	require.NoError(t, err, "cannot hash migrations")

	templateConfig, err := c.InitializeTemplate(t.Context(), hash)
	switch {
	case errors.Is(err, integresql.ErrTemplateAlreadyInitialized):
		// cached from an earlier run
	default:
		require.NoError(t, err, "cannot initialize template")
		migrate(t, templateConfig.Config.ConnectionString(), migrationPath, migrations)
		require.NoError(t, c.FinalizeTemplate(t.Context(), hash), "cannot finalize template")
	}

	testDB, err := c.GetTestDatabase(t.Context(), hash)
	require.NoError(t, err, "cannot get test database")

	cfg, err := pgxpool.ParseConfig(testDB.Config.ConnectionString())
	require.NoError(t, err)
	cfg.ConnConfig.Tracer = NewQueryTracer(WrapLog(t))

	pool, err := pgxpool.NewWithConfig(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(t.Context()), "cannot reach test database")
	return pool
}

func migrate(t *testing.T, connString, migrationPath string, migrations fs.FS) {
	t.Helper()

	goose.SetBaseFS(migrations)
	require.NoError(t, goose.SetDialect("pgx"), "cannot set goose dialect")

	db, err := goose.OpenDBWithDriver("pgx", connString)
	require.NoError(t, err, "cannot open goose connection")

	require.NoError(t, goose.Up(db, path.Base(migrationPath)), "migrations failed")
	require.NoError(t, db.Close())
}
