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
	"time"

	"github.com/spf13/cobra"

	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
)

var addFileCmd = &cobra.Command{
	Use:   "add-file <representation> <path>...",
	Short: "Add raw data files to a neuro representation",
	Long: `Copies host files into the content folder of the neuro representation
with the given label and records them in the catalog. The representation
checksum is updated with each file.

A directory argument imports every regular file directly inside it, in name
order. Hidden files and names matched by the ignore patterns in settings.yaml
are left out.

Examples:
  morphdepot add-file R1 scan.png trace.swc
  morphdepot add-file R1 ./session-03/`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAddFile,
}

var (
	addFileAllowPartial  bool
	addFileIncludeHidden bool
)

func init() {
	rootCmd.AddCommand(addFileCmd)
	addFileCmd.Flags().BoolVar(&addFileAllowPartial, "allow-partial", false, "Keep importing a directory after a file fails (skips it)")
	addFileCmd.Flags().BoolVar(&addFileIncludeHidden, "include-hidden", false, "Import hidden files from directories")
}

func runAddFile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	depot, err := openDepot()
	if err != nil {
		return err
	}
	defer depot.Close()

	label := args[0]
	nr, err := depot.Catalog.FindByLabel(ctx, storage.KindRepresentation, label)
	if err != nil {
		return fmt.Errorf("neuro representation %q: %w", label, err)
	}

	for _, p := range args[1:] {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}

		if info.IsDir() {
			cfg := rawdata.DefaultImportConfig()
			cfg.SkipHidden = !addFileIncludeHidden
			cfg.AllowPartial = addFileAllowPartial
			cfg.Filter = depot.Filter.Accept()
			result, err := depot.Content.ImportDir(ctx, nr.EntityID(), p, cfg)
			if result != nil {
				fmt.Fprintf(out, "Imported %d of %d file(s) from %s (%d bytes, %s)\n",
					result.CopiedFiles, result.TotalFiles, p, result.CopiedBytes, result.Duration.Round(time.Millisecond))
				if len(result.SkippedFiles) > 0 {
					fmt.Fprintf(out, "\nWarning: %d file(s) skipped:\n", len(result.SkippedFiles))
					for _, f := range result.SkippedFiles {
						fmt.Fprintf(out, "  - %s\n", f)
					}
				}
			}
			if err != nil {
				return err
			}
			continue
		}

		if depot.Filter.Ignored(filepath.Base(p)) {
			fmt.Fprintf(out, "Skipped %s (matches an ignore pattern)\n", p)
			continue
		}
		f, err := depot.Content.AddFileFromPath(ctx, nr.EntityID(), p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s to %s (%d bytes, sha1 %s)\n", f.FileName, label, f.StSize, f.Checksum)
	}
	return nil
}
