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

package inttest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5"
)

type traceContextKey int

const queryStartKey traceContextKey = 1

// QueryTracer logs every query a test runs against its database, with the
// SQL colored for readability in verbose output.
type QueryTracer struct {
	logger *slog.Logger
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func NewQueryTracer(logger *slog.Logger) *QueryTracer {
	return &QueryTracer{logger: logger}
}

func (qt *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qt.logger.Debug("query start",
		"sql", color.GreenString(compactSQL(data.SQL)),
		"args", color.BlueString(fmt.Sprintf("%v", data.Args)),
	)
	return context.WithValue(ctx, queryStartKey, time.Now())
}

func (qt *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	attrs := []any{
		"command_tag", data.CommandTag.String(),
		"rows_affected", data.CommandTag.RowsAffected(),
	}
	if start, ok := ctx.Value(queryStartKey).(time.Time); ok {
		attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds())
	}

	if data.Err != nil {
		attrs = append(attrs, "error", data.Err)
		qt.logger.Error("query failed", attrs...)
		return
	}
	qt.logger.Debug("query done", attrs...)
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
