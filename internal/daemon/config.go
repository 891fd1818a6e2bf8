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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"morphdepot/internal/artifacts"
)

// Environment overrides.
const (
	EnvConfigDir = "MORPHDEPOT_CONFIG_DIR"
	EnvLogLevel  = "MORPHDEPOT_LOG_LEVEL"
)

// getConfigDir returns the config directory path.
// Uses MORPHDEPOT_CONFIG_DIR if set, otherwise ~/.morphdepot.
// Computed on every call so tests can isolate themselves through the env.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".morphdepot")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file unless one is already there. It reports whether the
// settings file was written.
func InitConfigDir() (bool, error) {
	if err := EnsureConfigDir(); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(path, artifacts.Settings, 0600); err != nil {
		return false, fmt.Errorf("failed to create default settings: %w", err)
	}
	return true, nil
}

// Settings is the content of settings.yaml.
type Settings struct {
	Database      string   `yaml:"database"`        // catalog file (default: <config dir>/morphdepot.db)
	RawDataRoot   string   `yaml:"raw_data_root"`   // content folders (default: <config dir>/raw_data)
	LogLevel      string   `yaml:"log_level"`       // trace, debug, info, warn, error, off (default: info)
	BusyTimeoutMS int      `yaml:"busy_timeout_ms"` // SQLite busy_timeout, 0 = storage default
	NFSAddr       string   `yaml:"nfs_addr"`        // listen address for mount --nfs
	Ignore        []string `yaml:"ignore"`          // gitignore-style junk name patterns
}

// ApplyDefaults fills zero-value fields with their defaults and expands a
// leading ~ in paths.
func (s *Settings) ApplyDefaults() {
	if s.Database == "" {
		s.Database = filepath.Join(getConfigDir(), "morphdepot.db")
	}
	if s.RawDataRoot == "" {
		s.RawDataRoot = filepath.Join(getConfigDir(), "raw_data")
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.NFSAddr == "" {
		s.NFSAddr = "127.0.0.1:0"
	}
	s.Database = expandHome(s.Database)
	s.RawDataRoot = expandHome(s.RawDataRoot)
}

// defaultSettings parses the embedded settings template.
func defaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.Settings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// LoadSettings reads settings.yaml from the config directory. A missing
// file yields the embedded defaults.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFromPath(SettingsPath())
}

// LoadSettingsFromPath reads a settings file. A missing file yields the
// embedded defaults; keys absent from the file get ApplyDefaults values.
func LoadSettingsFromPath(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s := defaultSettings()
			s.ApplyDefaults()
			return &s, nil
		}
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// ParseLogLevel maps a settings log level to logrus. "off" and "none"
// silence everything but panics.
func ParseLogLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "off", "none":
		return log.PanicLevel, nil
	case "":
		return log.InfoLevel, nil
	}
	return log.ParseLevel(level)
}

// ConfigureLogging applies the log level. MORPHDEPOT_LOG_LEVEL wins over
// the argument.
func ConfigureLogging(level string) error {
	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
	}
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
