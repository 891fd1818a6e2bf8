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

// Package daemon opens a catalog with its content store and serves it as
// a mounted filesystem, through FUSE or a local NFS server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"morphdepot/internal/fusefs"
	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
	"morphdepot/internal/vfs"
)

// Depot is an opened catalog, its content store and the filesystem over
// both.
type Depot struct {
	Settings *Settings
	Catalog  *storage.Store
	Content  *rawdata.Store
	FS       *vfs.FS
	Filter   *NameFilter
}

// OpenDepot opens (or creates) the catalog and raw-data root named by s.
func OpenDepot(s *Settings) (*Depot, error) {
	if err := os.MkdirAll(filepath.Dir(s.Database), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	catalog, err := storage.OpenOrCreate(s.Database, storage.Options{BusyTimeoutMS: s.BusyTimeoutMS})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", s.Database, err)
	}
	content, err := rawdata.NewOS(s.RawDataRoot, catalog)
	if err != nil {
		catalog.Close()
		return nil, err
	}
	filter := NewNameFilter(s.Ignore)
	return &Depot{
		Settings: s,
		Catalog:  catalog,
		Content:  content,
		FS:       vfs.New(catalog, content, vfs.WithIgnore(filter.Ignored)),
		Filter:   filter,
	}, nil
}

// Close closes the catalog.
func (d *Depot) Close() error {
	return d.Catalog.Close()
}

// MountOptions configures Mount.
type MountOptions struct {
	Mountpoint string

	// NFS serves the namespace over a local NFSv3 server instead of FUSE.
	NFS bool
	// NFSAddr overrides Settings.NFSAddr.
	NFSAddr string
	// NoMount only serves NFS; the export is mounted by hand.
	NoMount bool

	AllowOther bool
	Debug      bool
}

// Mount serves the depot until ctx is done, SIGINT or SIGTERM arrives, or
// the filesystem is unmounted from outside. The catalog lock is held for
// the whole run.
func Mount(ctx context.Context, d *Depot, opts MountOptions) error {
	if opts.Mountpoint == "" && !(opts.NFS && opts.NoMount) {
		return errors.New("mountpoint is required")
	}
	lock, err := LockCatalog(d.Settings.Database)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("[Mount] catalog %s, raw data %s", d.Settings.Database, d.Settings.RawDataRoot)
	if opts.NFS {
		return serveNFS(ctx, d, opts)
	}
	return fusefs.Serve(ctx, d.FS, fusefs.Options{
		Mountpoint: opts.Mountpoint,
		AllowOther: opts.AllowOther,
		Debug:      opts.Debug,
	})
}
