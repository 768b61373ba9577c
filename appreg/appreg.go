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

// Package appreg defines the application registry: the mapping from unique
// application names to their owning identities. The exchange consumes it as
// its authorization source; registration itself is open to anyone claiming an
// unused name.
package appreg

import (
	"context"
	"errors"
	"fmt"

	"github.com/databrook/databrook/identity"
)

var (
	// ErrAppNotFound indicates the named application is not registered.
	ErrAppNotFound = errors.New("app does not exist")

	// ErrAppExists indicates the name is already taken.
	//
	// Must be returned by a [Registry] when Register is called with a name
	// that is currently registered.
	ErrAppExists = errors.New("app name already exists")
)

// NotOwnerError indicates the caller does not own the application it tried
// to act on.
type NotOwnerError struct {
	Name   string
	Caller identity.Address
}

func (e NotOwnerError) Error() string {
	return fmt.Sprintf("%s is not the owner of app %q", e.Caller, e.Name)
}

// App is a registered application.
type App struct {
	Name  string
	Owner identity.Address
}

// Directory is the read surface the exchange depends on to authorize
// provider operations.
type Directory interface {
	// Exists reports whether an app with the given name is registered.
	Exists(ctx context.Context, name string) (bool, error)
	// IsOwner reports whether addr owns the named app. Returns
	// [ErrAppNotFound] for unknown names.
	IsOwner(ctx context.Context, name string, addr identity.Address) (bool, error)
	// Owner resolves the owner of the named app. Returns [ErrAppNotFound]
	// for unknown names.
	Owner(ctx context.Context, name string) (identity.Address, error)
}

// Registry is the full registry surface, including mutation.
type Registry interface {
	Directory

	// Register claims the name for the caller.
	Register(ctx context.Context, name string, caller identity.Address) error
	// Unregister removes the app. Only the owner may do this.
	Unregister(ctx context.Context, name string, caller identity.Address) error
	// TransferOwnership hands the app to a new owner. Only the current
	// owner may do this.
	TransferOwnership(ctx context.Context, name string, caller, newOwner identity.Address) error
}
