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
	"path/filepath"

	"github.com/spf13/cobra"

	"morphdepot/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount <mount-point>",
	Aliases: []string{"umount"},
	Short:   "Unmount a mounted catalog",
	Long: `Unmounts a FUSE or NFS mount made by "morphdepot mount". The mount
process notices and exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if !daemon.IsMounted(target) {
		return fmt.Errorf("not mounted: %s", target)
	}
	if err := daemon.Unmount(target); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", target)
	return nil
}
