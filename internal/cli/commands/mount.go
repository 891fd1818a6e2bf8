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
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"morphdepot/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount the catalog as a filesystem",
	Long: `Mounts the catalog at the specified mount point and serves it until
interrupted (Ctrl-C) or unmounted.

FUSE is used by default. With --nfs a local NFSv3 server is started
instead and mounted with the system NFS client; --no-mount only starts
the server and prints its address.

Examples:
  morphdepot mount ~/depot
  morphdepot mount --nfs ~/depot
  morphdepot mount --nfs --no-mount --nfs-addr 127.0.0.1:12049`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMount,
}

var (
	mountNFS        bool
	mountNFSAddr    string
	mountNoMount    bool
	mountAllowOther bool
	mountDebug      bool
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolVar(&mountNFS, "nfs", false, "Serve over a local NFS server instead of FUSE")
	mountCmd.Flags().StringVar(&mountNFSAddr, "nfs-addr", "", "NFS listen address (default: nfs_addr from settings)")
	mountCmd.Flags().BoolVar(&mountNoMount, "no-mount", false, "With --nfs, serve without mounting")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "Allow other users to access the FUSE mount")
	mountCmd.Flags().BoolVar(&mountDebug, "debug", false, "Log every FUSE request")
}

func runMount(cmd *cobra.Command, args []string) error {
	opts := daemon.MountOptions{
		NFS:        mountNFS,
		NFSAddr:    mountNFSAddr,
		NoMount:    mountNoMount,
		AllowOther: mountAllowOther,
		Debug:      mountDebug,
	}
	if mountNoMount && !mountNFS {
		return fmt.Errorf("--no-mount requires --nfs")
	}
	if len(args) > 0 {
		mp, err := checkMountPoint(args[0])
		if err != nil {
			return err
		}
		opts.Mountpoint = mp
	} else if !mountNoMount {
		return fmt.Errorf("mount point required")
	}

	depot, err := openDepot()
	if err != nil {
		return err
	}
	defer depot.Close()

	return daemon.Mount(cmd.Context(), depot, opts)
}

// checkMountPoint resolves target and requires it to be missing or an
// empty directory.
func checkMountPoint(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mount point: %w", err)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return abs, nil
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("mount point exists and is not a directory: %s", abs)
	}
	if daemon.IsMounted(abs) {
		return "", fmt.Errorf("already mounted: %s", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read mount point: %w", err)
	}
	if len(entries) > 0 {
		return "", fmt.Errorf("mount point is not empty: %s", abs)
	}
	return abs, nil
}
