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

// Package app provides the process runtime shared by the daemons in this
// module: a small App contract plus helpers to run one or several apps with
// graceful shutdown.
package app

import (
	"context"
	"log/slog"
	"time"
)

var runTimeoutAfterGracefulShutdown = 30 * time.Second

// App is an application that can run and be shut down gracefully.
//
// Calling Shutdown must cause Run to exit. If Run exits before Shutdown can
// be called, it is assumed that Shutdown no longer needs to be called.
type App interface {
	Run() error
	Shutdown(ctx context.Context) error
}

// ShutdownCtxFunc supplies the context used for a graceful shutdown.
type ShutdownCtxFunc func() (context.Context, context.CancelFunc)

// Run runs the app until ctx is cancelled and returns a process exit code.
//
// shutdownCtxFunc is optional; when nil the shutdown gets
// context.Background(), meaning it is not bounded beyond the built-in run
// timeout.
func Run(ctx context.Context, a App, shutdownCtxFunc ShutdownCtxFunc) int {
	if shutdownCtxFunc == nil {
		shutdownCtxFunc = func() (context.Context, context.CancelFunc) {
			return context.Background(), func() {}
		}
	}

	runDone := make(chan struct{})
	errs := make(chan error)

	go func() {
		defer close(runDone)

		err := a.Run()
		if err != nil {
			slog.ErrorContext(ctx, "failed to run app", "error", err)
		}
		errs <- err
	}()

	go func() {
		defer close(errs)

		select {
		case <-runDone:
			// run finished on its own, no shutdown needed
		case <-ctx.Done():
			slog.InfoContext(ctx, "shutting down gracefully", "reason", ctx.Err())

			shutdownCtx, shutdownCancel := shutdownCtxFunc()
			defer shutdownCancel()

			err := a.Shutdown(shutdownCtx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to shutdown gracefully", "error", err)
			}

			// give the run goroutine a bounded time to drain
			select {
			case <-runDone:
			case <-time.After(runTimeoutAfterGracefulShutdown):
			}
			errs <- err
		}
	}()

	code := 0
	for err := range errs {
		if err != nil {
			code = 1
		}
	}

	return code
}
