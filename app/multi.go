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

package app

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errorShutdownTimeout = 30 * time.Second

// Multi runs several apps as one: all run concurrently, the first failure
// shuts the others down, and errors are joined.
type Multi struct {
	cancelGroup context.CancelFunc
	apps        []memberApp
}

type memberApp struct {
	app      App
	groupCtx context.Context
	shutdown func(App) error
}

func NewMulti(apps ...App) *Multi {
	groupCtx, cancelGroup := context.WithCancel(context.Background())

	members := make([]memberApp, 0, len(apps))
	for _, a := range apps {
		members = append(members, memberApp{
			app:      a,
			groupCtx: groupCtx,
			shutdown: func(a App) error {
				ctx, cancel := context.WithTimeout(context.Background(), errorShutdownTimeout)
				defer cancel()
				return a.Shutdown(ctx)
			},
		})
	}

	return &Multi{
		cancelGroup: cancelGroup,
		apps:        members,
	}
}

// ErrorShutdownFunc overrides how sibling apps are shut down after one app
// fails.
func (m *Multi) ErrorShutdownFunc(shutdownFunc func(App) error) {
	for i := range m.apps {
		m.apps[i].shutdown = shutdownFunc
	}
}

func (m *Multi) Run() error {
	if len(m.apps) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error)

	for _, a := range m.apps {
		wg.Go(func() {
			err := a.run()
			if err != nil {
				errs <- err
				m.cancelGroup()
			}
		})
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	return joinAll(errs)
}

func (m *Multi) Shutdown(ctx context.Context) error {
	if len(m.apps) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error)

	for _, a := range m.apps {
		wg.Go(func() {
			if err := a.app.Shutdown(ctx); err != nil {
				errs <- err
			}
		})
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	return joinAll(errs)
}

func (a *memberApp) run() error {
	errCh := make(chan error)
	go func() {
		errCh <- a.app.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-a.groupCtx.Done():
		// a sibling failed, stop this app and collect its exit error
		err := a.shutdown(a.app)
		return errors.Join(err, <-errCh)
	}
}

func joinAll(errs <-chan error) error {
	var out error
	for err := range errs {
		out = errors.Join(out, err)
	}
	return out
}
