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

	"github.com/spf13/cobra"
)

var verifyQuiet bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute checksums and compare them with the catalog",
	Long: `Re-hashes every raw data file and recomputes every neuro representation
checksum, reporting any mismatch, missing file or stray file in the content
folders.

Returns exit code 0 only when nothing was found, 2 when problems were found.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVarP(&verifyQuiet, "quiet", "q", false, "Suppress output, only set exit code")
}

func runVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	depot, err := openDepot()
	if err != nil {
		return err
	}
	defer depot.Close()

	report, err := depot.Content.Verify(cmd.Context())
	if err != nil {
		return err
	}
	if !verifyQuiet {
		for _, p := range report.Problems {
			fmt.Fprintf(out, "  %s\n", p)
		}
		fmt.Fprintf(out, "Checked %d representation(s), %d file(s): %d problem(s)\n",
			report.Containers, report.Files, len(report.Problems))
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d problem(s)", ErrVerifyFailed, len(report.Problems))
	}
	return nil
}
