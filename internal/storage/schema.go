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

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SchemaVersion is the catalog schema version written into schema_info.
const SchemaVersion = "1"

// catalogType identifies a morphdepot catalog in schema_info.
const catalogType = "catalog"

// Busy timeout configuration
const (
	// EnvBusyTimeout overrides the configured busy_timeout (milliseconds).
	EnvBusyTimeout = "MORPHDEPOT_BUSY_TIMEOUT"

	// DefaultBusyTimeout is used when neither the env var nor the settings set one.
	DefaultBusyTimeout = 5000
)

// GetBusyTimeout returns the busy_timeout in milliseconds.
// Priority: env > configured value > default.
func GetBusyTimeout(configured int) int {
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}
	if configured > 0 {
		return configured
	}
	return DefaultBusyTimeout
}

// BuildDSN builds the libsql DSN for a catalog file.
func BuildDSN(path string) string {
	return "file:" + path
}

// Dimension tables share one layout: a string primary key plus free text.
const dimensionTable = `
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT ''
);
`

// Schema SQL for the catalog. Labels are unique per entity table so that
// every directory name in the namespace maps to exactly one row.
const catalogSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scientists (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    first_name TEXT NOT NULL DEFAULT '',
    middle_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    affiliations TEXT NOT NULL DEFAULT '',
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    scientist_id TEXT NOT NULL REFERENCES scientists(id),
    date TEXT NOT NULL DEFAULT '',
    lab_notebook TEXT NOT NULL DEFAULT '',
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiments_scientist ON experiments(scientist_id);

CREATE TABLE IF NOT EXISTS tissue_samples (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    experiment_id TEXT NOT NULL REFERENCES experiments(id),
    comment TEXT NOT NULL DEFAULT '',
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tissue_samples_experiment ON tissue_samples(experiment_id);

CREATE TABLE IF NOT EXISTS neurons (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    tissue_sample_id TEXT NOT NULL REFERENCES tissue_samples(id),
    comment TEXT NOT NULL DEFAULT '',
    neuron_category TEXT REFERENCES neuron_categories(name),
    arborization_area TEXT REFERENCES arborization_areas(name),
    cell_body_region TEXT REFERENCES cell_body_regions(name),
    axonal_tract TEXT REFERENCES axonal_tracts(name),
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_neurons_tissue_sample ON neurons(tissue_sample_id);

CREATE TABLE IF NOT EXISTS neuro_representations (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL UNIQUE,
    tissue_sample_id TEXT NOT NULL REFERENCES tissue_samples(id),
    checksum TEXT NOT NULL,
    comment TEXT NOT NULL DEFAULT '',
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_representations_tissue_sample ON neuro_representations(tissue_sample_id);

CREATE TABLE IF NOT EXISTS neuron_nr_maps (
    neuron_id TEXT NOT NULL REFERENCES neurons(id) ON DELETE CASCADE,
    nr_id TEXT NOT NULL REFERENCES neuro_representations(id) ON DELETE CASCADE,
    PRIMARY KEY (neuron_id, nr_id)
);

-- Files are never cascaded: the content store removes rows and blobs together.
CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    neuro_representation_id TEXT NOT NULL REFERENCES neuro_representations(id),
    file_name TEXT NOT NULL,
    st_atime INTEGER NOT NULL DEFAULT 0,
    st_mtime INTEGER NOT NULL DEFAULT 0,
    st_ctime INTEGER NOT NULL DEFAULT 0,
    st_blksize INTEGER NOT NULL DEFAULT 0,
    st_size INTEGER NOT NULL DEFAULT 0 CHECK (st_size >= 0),
    checksum TEXT NOT NULL,
    ctime INTEGER NOT NULL,
    mtime INTEGER NOT NULL,
    UNIQUE (neuro_representation_id, file_name)
);
`

// initSchemaInfo stores the catalog type and version.
const initSchemaInfo = `
INSERT INTO schema_info (key, value) VALUES ('type', ?);
INSERT INTO schema_info (key, value) VALUES ('version', ?);
`

// fullSchema returns the dimension tables followed by the entity tables.
// Dimension tables come first because neurons reference them.
func fullSchema() string {
	var b strings.Builder
	for _, d := range Dimensions() {
		fmt.Fprintf(&b, dimensionTable, d.Table())
	}
	b.WriteString(catalogSchema)
	return b.String()
}

// execStatements executes a SQL script one statement at a time.
// libsql does not support multiple statements in a single Exec call.
func execStatements(db *sql.DB, sqlScript string, args ...any) error {
	argIdx := 0
	for _, stmt := range splitStatements(sqlScript) {
		placeholders := strings.Count(stmt, "?")
		if argIdx+placeholders > len(args) {
			return fmt.Errorf("statement needs %d args, %d left: %s", placeholders, len(args)-argIdx, stmt)
		}
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return fmt.Errorf("%w (statement: %s)", err, firstLine(stmt))
		}
	}
	return nil
}

// splitStatements splits a SQL script on statement-terminating semicolons,
// dropping blank lines and "--" comments.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
