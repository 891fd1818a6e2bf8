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

	"morphdepot/internal/daemon"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration directory and an empty catalog",
	Long: `Creates the configuration directory with a default settings.yaml, then
creates the catalog database and the raw data folder it names.

Running init again keeps the existing settings and catalog.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	created, err := daemon.InitConfigDir()
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Initialized MorphDepot in %s\n", daemon.ConfigDir())
		fmt.Fprintf(out, "  created settings.yaml\n")
	} else {
		fmt.Fprintf(out, "Reinitialized existing MorphDepot in %s\n", daemon.ConfigDir())
		fmt.Fprintf(out, "  settings.yaml already exists (not modified)\n")
	}

	// pick up the file just written
	s, err := daemon.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if flagLogLevel != "" {
		s.LogLevel = flagLogLevel
	}
	settings = s

	depot, err := openDepot()
	if err != nil {
		return err
	}
	defer depot.Close()

	fmt.Fprintf(out, "  catalog:  %s\n", s.Database)
	fmt.Fprintf(out, "  raw data: %s\n", s.RawDataRoot)
	return nil
}
