// Copyright 2024 MorphDepot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrCatalogInUse is returned when another process has the catalog mounted.
var ErrCatalogInUse = errors.New("catalog is already mounted by another process")

// LockPath returns the lock file guarding a catalog.
func LockPath(database string) string {
	return database + ".lock"
}

// CatalogLock is an exclusive advisory lock on a catalog. Only mounts
// take it; one-shot commands rely on SQLite locking.
type CatalogLock struct {
	fl *flock.Flock
}

// LockCatalog takes the lock without waiting.
func LockCatalog(database string) (*CatalogLock, error) {
	fl := flock.New(LockPath(database))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", database, ErrCatalogInUse)
	}
	return &CatalogLock{fl: fl}, nil
}

// Unlock releases the lock. The lock file is left in place.
func (l *CatalogLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
