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

package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/databrook/databrook/app"
)

// blockingApp runs until shut down.
type blockingApp struct {
	started  chan struct{}
	release  chan error
	shutdown atomic.Int64
}

func newBlockingApp() *blockingApp {
	return &blockingApp{
		started: make(chan struct{}),
		release: make(chan error, 1),
	}
}

func (a *blockingApp) Run() error {
	close(a.started)
	return <-a.release
}

func (a *blockingApp) Shutdown(context.Context) error {
	a.shutdown.Add(1)
	a.release <- nil
	return nil
}

func TestRun_ExitsWhenAppFinishes(t *testing.T) {
	t.Parallel()

	a := newBlockingApp()
	go func() {
		<-a.started
		a.release <- nil
	}()

	code := app.Run(t.Context(), a, nil)
	require.Equal(t, 0, code)
	require.EqualValues(t, 0, a.shutdown.Load())
}

func TestRun_NonZeroOnError(t *testing.T) {
	t.Parallel()

	a := newBlockingApp()
	go func() {
		<-a.started
		a.release <- errors.New("boom")
	}()

	code := app.Run(t.Context(), a, nil)
	require.Equal(t, 1, code)
}

func TestRun_ShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	a := newBlockingApp()
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-a.started
		cancel()
	}()

	code := app.Run(ctx, a, nil)
	require.Equal(t, 0, code)
	require.EqualValues(t, 1, a.shutdown.Load())
}

func TestMulti_FailureStopsSiblings(t *testing.T) {
	t.Parallel()

	healthy := newBlockingApp()
	failing := newBlockingApp()

	m := app.NewMulti(healthy, failing)

	go func() {
		<-failing.started
		failing.release <- errors.New("boom")
	}()

	err := m.Run()
	require.ErrorContains(t, err, "boom")
	require.EqualValues(t, 1, healthy.shutdown.Load())
}

func TestMulti_Empty(t *testing.T) {
	t.Parallel()

	m := app.NewMulti()
	require.NoError(t, m.Run())
	require.NoError(t, m.Shutdown(t.Context()))
}

func TestSingleFuncApp(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	a := app.NewSingleFuncApp(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	done := make(chan error)
	go func() {
		done <- a.Run()
	}()

	<-started
	require.NoError(t, a.Shutdown(t.Context()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after shutdown")
	}
}
