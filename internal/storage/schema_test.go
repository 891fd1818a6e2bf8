package storage

import (
	"strings"
	"testing"
)

func TestSchemaConstants(t *testing.T) {
	if SchemaVersion != "1" {
		t.Errorf("SchemaVersion = %s, want 1", SchemaVersion)
	}
	if catalogType != "catalog" {
		t.Errorf("catalogType = %s, want catalog", catalogType)
	}
}

func TestSchemaTables(t *testing.T) {
	schema := fullSchema()
	tables := []string{
		"schema_info", "scientists", "experiments", "tissue_samples", "neurons",
		"neuro_representations", "neuron_nr_maps", "files",
	}
	for _, d := range Dimensions() {
		tables = append(tables, d.Table())
	}
	for _, table := range tables {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
}

func TestLabelsAreUnique(t *testing.T) {
	// every labelled table maps one folder name to one row
	for _, table := range []string{"scientists", "experiments", "tissue_samples", "neurons", "neuro_representations"} {
		stmt := tableStatement(t, table)
		if !strings.Contains(stmt, "label TEXT NOT NULL UNIQUE") {
			t.Errorf("%s.label is not unique", table)
		}
	}
	if !strings.Contains(tableStatement(t, "files"), "UNIQUE (neuro_representation_id, file_name)") {
		t.Error("file names must be unique per container")
	}
}

func TestDimensionsOrder(t *testing.T) {
	dims := Dimensions()
	for i := 1; i < len(dims); i++ {
		if dims[i-1] >= dims[i] {
			t.Errorf("Dimensions() not sorted: %s before %s", dims[i-1], dims[i])
		}
	}
	if Dimension("colors").Valid() {
		t.Error("unknown dimension reported valid")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("CREATE TABLE x (\n  id TEXT\n);"); got != "CREATE TABLE x (" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("PRAGMA x"); got != "PRAGMA x" {
		t.Errorf("firstLine = %q", got)
	}
}

func tableStatement(t *testing.T, table string) string {
	t.Helper()
	for _, stmt := range splitStatements(fullSchema()) {
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			return stmt
		}
	}
	t.Fatalf("no statement for table %s", table)
	return ""
}
