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

// Package fusefs serves a vfs.FS through the kernel FUSE interface.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"morphdepot/internal/vfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	// FsName is shown by mount(8) and df.
	FsName string

	// AllowOther lets other users access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Timeout is the kernel entry and attribute cache timeout. Zero
	// disables caching, so edits made through the catalog show up at once.
	Timeout time.Duration

	// Debug logs every FUSE request from go-fuse itself.
	Debug bool
}

// Mount mounts fsys at the configured mountpoint. The caller must call
// Unmount on the returned server. Requests are served one at a time.
func Mount(fsys *vfs.FS, opts Options) (*fuse.Server, error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if opts.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if opts.FsName == "" {
		opts.FsName = "morphdepot"
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	timeout := opts.Timeout
	root := &node{fsys: fsys}
	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:         opts.FsName,
			Name:           "morphdepot",
			AllowOther:     opts.AllowOther,
			SingleThreaded: true,
			DisableXAttrs:  true,
			Debug:          opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}
	log.Infof("[FUSE] mounted at %s", opts.Mountpoint)
	return server, nil
}

// Serve mounts fsys and blocks until the filesystem is unmounted, either
// externally (fusermount -u) or because ctx is done.
func Serve(ctx context.Context, fsys *vfs.FS, opts Options) error {
	server, err := Mount(fsys, opts)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Infof("[FUSE] unmounting %s", opts.Mountpoint)
			if err := server.Unmount(); err != nil {
				log.Warnf("[FUSE] unmount %s: %v", opts.Mountpoint, err)
			}
		case <-done:
		}
	}()
	server.Wait()
	close(done)

	if n := fsys.DropHandles(); n > 0 {
		log.Warnf("[FUSE] dropped %d handles still open at unmount", n)
	}
	log.Infof("[FUSE] unmounted %s", opts.Mountpoint)
	return nil
}
