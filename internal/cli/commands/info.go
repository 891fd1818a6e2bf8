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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"morphdepot/internal/daemon"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show catalog location and contents",
	Long: `Shows the configuration in use, whether the catalog is currently mounted
and how many entities and raw data bytes it holds.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	depot, err := openDepot()
	if err != nil {
		return err
	}
	defer depot.Close()

	fmt.Fprintf(out, "Config dir: %s\n", daemon.ConfigDir())
	fmt.Fprintf(out, "Catalog:    %s\n", settings.Database)
	fmt.Fprintf(out, "Raw data:   %s\n", settings.RawDataRoot)

	mounted := "no"
	lock, err := daemon.LockCatalog(settings.Database)
	switch {
	case errors.Is(err, daemon.ErrCatalogInUse):
		mounted = "yes"
	case err != nil:
		mounted = "unknown (" + err.Error() + ")"
	default:
		lock.Unlock()
	}
	fmt.Fprintf(out, "Mounted:    %s\n", mounted)

	st, err := depot.Catalog.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nScientists:       %d\n", st.Scientists)
	fmt.Fprintf(out, "Experiments:      %d\n", st.Experiments)
	fmt.Fprintf(out, "Tissue samples:   %d\n", st.TissueSamples)
	fmt.Fprintf(out, "Neurons:          %d\n", st.Neurons)
	fmt.Fprintf(out, "Representations:  %d\n", st.Representations)
	fmt.Fprintf(out, "Raw files:        %d (%s)\n", st.Files, formatBytes(st.TotalBytes))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
