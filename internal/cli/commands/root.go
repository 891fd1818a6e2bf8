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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"morphdepot/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

var (
	flagConfigDir string
	flagLogLevel  string

	// settings is loaded before every command except help and version
	settings *daemon.Settings
)

var rootCmd = &cobra.Command{
	Use:   "morphdepot",
	Short: "Browse and edit a neuromorphology catalog as a filesystem",
	Long: `MorphDepot mounts a catalog of scientists, experiments, tissue samples,
neurons and neuro representations as a directory tree. Every entity has an
info.yaml describing it; representation folders hold the raw data files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		if flagConfigDir != "" {
			if err := os.Setenv(daemon.EnvConfigDir, flagConfigDir); err != nil {
				return err
			}
		}

		s, err := daemon.LoadSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if flagLogLevel != "" {
			s.LogLevel = flagLogLevel
		}
		if err := daemon.ConfigureLogging(s.LogLevel); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		settings = s
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("morphdepot version {{.Version}}\n")
	rootCmd.Version = getVersionString()
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Configuration directory (default: $"+daemon.EnvConfigDir+" or ~/.morphdepot)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error, off")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ErrVerifyFailed is returned by verify when problems were found.
var ErrVerifyFailed = errors.New("verification failed")

// ExitCode maps a command error to the process exit status: 2 for failed
// verification, 3 when the catalog is mounted elsewhere, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrVerifyFailed):
		return 2
	case errors.Is(err, daemon.ErrCatalogInUse):
		return 3
	}
	return 1
}

// openDepot opens the catalog named by the loaded settings.
func openDepot() (*daemon.Depot, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings not loaded")
	}
	return daemon.OpenDepot(settings)
}
