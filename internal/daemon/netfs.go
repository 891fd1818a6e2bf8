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
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"morphdepot/internal/util"
)

// unmountTimeout bounds each unmount attempt. A soft NFS mount whose server
// is gone can block umount until the client gives up.
const unmountTimeout = 3 * time.Second

// serveNFS runs the NFS server and, unless NoMount is set, mounts it at
// the mountpoint. A failed mount leaves the server running and logs the
// command to mount it by hand.
func serveNFS(ctx context.Context, d *Depot, opts MountOptions) error {
	addr := opts.NFSAddr
	if addr == "" {
		addr = d.Settings.NFSAddr
	}
	srv := NewNFSServer(d.FS)
	bound, err := srv.Listen(addr)
	if err != nil {
		return err
	}
	log.Infof("[NFS] serving at %s", bound)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	mounted := false
	if !opts.NoMount {
		tcp, _ := bound.(*net.TCPAddr)
		if err := MountNFS(ctx, tcp, opts.Mountpoint); err != nil {
			log.Warnf("[NFS] mount failed: %v", err)
			log.Warnf("[NFS] mount by hand: %s", strings.Join(mountCommand(runtime.GOOS, tcp, opts.Mountpoint), " "))
		} else {
			mounted = true
			log.Infof("[NFS] mounted at %s", opts.Mountpoint)
		}
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Errorf("[NFS] server stopped: %v", err)
		}
	}

	// unmount before the server goes away, or the kernel client hangs
	if mounted {
		if uerr := Unmount(opts.Mountpoint); uerr != nil {
			log.Warnf("[NFS] %v", uerr)
		}
	}
	srv.Shutdown()
	if n := d.FS.DropHandles(); n > 0 {
		log.Warnf("[NFS] dropped %d handles still open at shutdown", n)
	}
	log.Infof("[NFS] stopped")
	return err
}

// MountNFS mounts the export served at addr and waits until the mount
// shows up in the mount table.
func MountNFS(ctx context.Context, addr *net.TCPAddr, mountpoint string) error {
	if addr == nil {
		return fmt.Errorf("nfs server address is not TCP")
	}
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	args := mountCommand(runtime.GOOS, addr, mountpoint)
	log.Debugf("[NFS] running %s", strings.Join(args, " "))
	output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	if err := util.PollUntil(ctx, util.DefaultPollConfig(), func() bool { return IsMounted(mountpoint) }); err != nil {
		return fmt.Errorf("%s did not appear in the mount table: %w", mountpoint, err)
	}
	return nil
}

// Unmount unmounts a FUSE or NFS mountpoint, forcing it when a plain
// umount fails.
func Unmount(mountpoint string) error {
	if !IsMounted(mountpoint) {
		return nil
	}
	attempts := unmountCommands(runtime.GOOS, mountpoint)

	var lastErr error
	for _, args := range attempts {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			return nil
		}
		log.Debugf("[NFS] %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountpoint, lastErr)
}

func unmountCommands(goos, mountpoint string) [][]string {
	attempts := [][]string{
		{"umount", mountpoint},
		{"umount", "-f", mountpoint},
	}
	switch goos {
	case "darwin":
		attempts = append([][]string{{"diskutil", "unmount", mountpoint}}, attempts...)
	case "linux":
		// unprivileged FUSE mounts only go away through fusermount
		attempts = append([][]string{{"fusermount", "-u", mountpoint}}, attempts...)
	}
	return attempts
}

// IsMounted checks the mount table for mountpoint.
func IsMounted(mountpoint string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	// /tmp is a symlink on macOS; the table lists the resolved path
	realPath, err := filepath.EvalSymlinks(mountpoint)
	if err != nil {
		realPath = mountpoint
	}
	return containsMount(output, realPath)
}

// containsMount looks for "<source> on <mountpoint> ..." lines.
func containsMount(mountOutput []byte, mountpoint string) bool {
	for _, line := range bytes.Split(mountOutput, []byte("\n")) {
		if bytes.Contains(line, []byte(" on "+mountpoint+" ")) ||
			bytes.HasSuffix(line, []byte(" on "+mountpoint)) {
			return true
		}
	}
	return false
}
