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

package inmem

import (
	"context"
	"errors"
	"sync"

	"github.com/databrook/databrook/appreg"
	"github.com/databrook/databrook/identity"
)

// Registry is an in-memory application registry.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]appreg.App
}

var _ appreg.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		apps: make(map[string]appreg.App),
	}
}

func (r *Registry) Register(_ context.Context, name string, caller identity.Address) error {
	if name == "" {
		return errors.New("app name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.apps[name]; ok {
		return appreg.ErrAppExists
	}

	r.apps[name] = appreg.App{
		Name:  name,
		Owner: caller,
	}
	return nil
}

func (r *Registry) Unregister(_ context.Context, name string, caller identity.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[name]
	if !ok {
		return appreg.ErrAppNotFound
	}
	if app.Owner != caller {
		return appreg.NotOwnerError{
			Name:   name,
			Caller: caller,
		}
	}

	delete(r.apps, name)
	return nil
}

func (r *Registry) TransferOwnership(_ context.Context, name string, caller, newOwner identity.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.apps[name]
	if !ok {
		return appreg.ErrAppNotFound
	}
	if app.Owner != caller {
		return appreg.NotOwnerError{
			Name:   name,
			Caller: caller,
		}
	}

	app.Owner = newOwner
	r.apps[name] = app
	return nil
}

func (r *Registry) Exists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.apps[name]
	return ok, nil
}

func (r *Registry) IsOwner(_ context.Context, name string, addr identity.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[name]
	if !ok {
		return false, appreg.ErrAppNotFound
	}
	return app.Owner == addr, nil
}

func (r *Registry) Owner(_ context.Context, name string) (identity.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[name]
	if !ok {
		return identity.Address{}, appreg.ErrAppNotFound
	}
	return app.Owner, nil
}
