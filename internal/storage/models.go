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
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Bun models for the catalog tables.
// Times are stored as Unix timestamps. The yaml tags define the info file
// layout: "-" marks columns that never appear in an info document (timestamps
// and parent foreign keys).

// EntityKind names an entity table.
type EntityKind string

const (
	KindScientist      EntityKind = "scientist"
	KindExperiment     EntityKind = "experiment"
	KindTissueSample   EntityKind = "tissue_sample"
	KindNeuron         EntityKind = "neuron"
	KindRepresentation EntityKind = "neuro_representation"
	KindFile           EntityKind = "file"
	KindDimension      EntityKind = "dimension"
)

// Entity is implemented by every persisted model.
type Entity interface {
	EntityKind() EntityKind
	EntityID() string
	EntityLabel() string
	SetEntityLabel(label string)
	// Times returns creation and modification time. Zero for rows without them.
	Times() (ctime, mtime time.Time)
}

// SchemaInfoModel represents the schema_info table.
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// Identity holds the columns shared by every labelled entity.
type Identity struct {
	ID    string `bun:"id,pk" yaml:"id"`
	Label string `bun:"label,notnull" yaml:"label"`
	Ctime int64  `bun:"ctime,notnull" yaml:"-"`
	Mtime int64  `bun:"mtime,notnull" yaml:"-"`
}

func (i *Identity) EntityID() string { return i.ID }
func (i *Identity) EntityLabel() string { return i.Label }
func (i *Identity) SetEntityLabel(label string) { i.Label = label }

func (i *Identity) Times() (time.Time, time.Time) {
	return time.Unix(i.Ctime, 0), time.Unix(i.Mtime, 0)
}

// Scientist is the top of the entity graph.
type Scientist struct {
	bun.BaseModel `bun:"table:scientists,alias:s" yaml:"-"`
	Identity      `yaml:",inline"`

	FirstName    string `bun:"first_name,notnull" yaml:"first_name"`
	MiddleName   string `bun:"middle_name,notnull" yaml:"middle_name"`
	LastName     string `bun:"last_name,notnull" yaml:"last_name"`
	Title        string `bun:"title,notnull" yaml:"title"`
	Affiliations string `bun:"affiliations,notnull" yaml:"affiliations"`
}

func (*Scientist) EntityKind() EntityKind { return KindScientist }

// NewScientist builds a scientist whose names are split from label:
// the first word is the first name, the last word the last name and
// anything in between the middle name.
func NewScientist(label string) *Scientist {
	s := &Scientist{Identity: Identity{Label: label}}
	words := strings.Fields(label)
	switch len(words) {
	case 0:
	case 1:
		s.LastName = words[0]
	default:
		s.FirstName = words[0]
		s.LastName = words[len(words)-1]
		s.MiddleName = strings.Join(words[1:len(words)-1], " ")
	}
	return s
}

// Experiment belongs to one scientist.
type Experiment struct {
	bun.BaseModel `bun:"table:experiments,alias:e" yaml:"-"`
	Identity      `yaml:",inline"`

	ScientistID string `bun:"scientist_id,notnull" yaml:"-"`
	Date        string `bun:"date,notnull" yaml:"date"` // YYYY-MM-DD or empty
	LabNotebook string `bun:"lab_notebook,notnull" yaml:"lab_notebook"`
}

func (*Experiment) EntityKind() EntityKind { return KindExperiment }

// TissueSample belongs to one experiment.
type TissueSample struct {
	bun.BaseModel `bun:"table:tissue_samples,alias:ts" yaml:"-"`
	Identity      `yaml:",inline"`

	ExperimentID string `bun:"experiment_id,notnull" yaml:"-"`
	Comment      string `bun:"comment,notnull" yaml:"comment"`
}

func (*TissueSample) EntityKind() EntityKind { return KindTissueSample }

// Neuron belongs to one tissue sample. The dimension columns are string
// foreign keys and appear in info files; empty means unset (NULL).
type Neuron struct {
	bun.BaseModel `bun:"table:neurons,alias:n" yaml:"-"`
	Identity      `yaml:",inline"`

	TissueSampleID   string `bun:"tissue_sample_id,notnull" yaml:"-"`
	Comment          string `bun:"comment,notnull" yaml:"comment"`
	NeuronCategory   string `bun:"neuron_category,nullzero" yaml:"neuron_category"`
	ArborizationArea string `bun:"arborization_area,nullzero" yaml:"arborization_area"`
	CellBodyRegion   string `bun:"cell_body_region,nullzero" yaml:"cell_body_region"`
	AxonalTract      string `bun:"axonal_tract,nullzero" yaml:"axonal_tract"`
}

func (*Neuron) EntityKind() EntityKind { return KindNeuron }

// DimensionRefs returns the neuron's dimension references keyed by dimension.
func (n *Neuron) DimensionRefs() map[Dimension]string {
	return map[Dimension]string{
		DimNeuronCategory:   n.NeuronCategory,
		DimArborizationArea: n.ArborizationArea,
		DimCellBodyRegion:   n.CellBodyRegion,
		DimAxonalTract:      n.AxonalTract,
	}
}

// NeuroRepresentation is a container of raw files. Checksum is maintained
// by the content store and is never taken from an info file.
type NeuroRepresentation struct {
	bun.BaseModel `bun:"table:neuro_representations,alias:nr" yaml:"-"`
	Identity      `yaml:",inline"`

	TissueSampleID string `bun:"tissue_sample_id,notnull" yaml:"-"`
	Checksum       string `bun:"checksum,notnull" yaml:"-"`
	Comment        string `bun:"comment,notnull" yaml:"comment"`
}

func (*NeuroRepresentation) EntityKind() EntityKind { return KindRepresentation }

// NeuronLink is a row of the neuron/representation mapping table.
type NeuronLink struct {
	bun.BaseModel `bun:"table:neuron_nr_maps,alias:nm"`

	NeuronID string `bun:"neuron_id,pk"`
	NrID     string `bun:"nr_id,pk"`
}

// File is a raw data file stored in a representation's content folder.
type File struct {
	bun.BaseModel `bun:"table:files,alias:f" yaml:"-"`

	ID                    string `bun:"id,pk" yaml:"id"`
	NeuroRepresentationID string `bun:"neuro_representation_id,notnull" yaml:"-"`
	FileName              string `bun:"file_name,notnull" yaml:"file_name"`
	StAtime               int64  `bun:"st_atime,notnull" yaml:"st_atime"`
	StMtime               int64  `bun:"st_mtime,notnull" yaml:"st_mtime"`
	StCtime               int64  `bun:"st_ctime,notnull" yaml:"st_ctime"`
	StBlksize             int64  `bun:"st_blksize,notnull" yaml:"st_blksize"`
	StSize                int64  `bun:"st_size,notnull" yaml:"st_size"`
	Checksum              string `bun:"checksum,notnull" yaml:"checksum"`
	Ctime                 int64  `bun:"ctime,notnull" yaml:"-"`
	Mtime                 int64  `bun:"mtime,notnull" yaml:"-"`
}

func (*File) EntityKind() EntityKind { return KindFile }
func (f *File) EntityID() string { return f.ID }
func (f *File) EntityLabel() string { return f.FileName }
func (f *File) SetEntityLabel(name string) { f.FileName = name }
func (f *File) Times() (time.Time, time.Time) { return time.Unix(f.StCtime, 0), time.Unix(f.StMtime, 0) }

// DimensionValue is one row of a dimension table. Name is its key.
type DimensionValue struct {
	Dimension   Dimension `bun:"-" yaml:"-"`
	Name        string    `bun:"name" yaml:"name"`
	Description string    `bun:"description" yaml:"description"`
	Comment     string    `bun:"comment" yaml:"comment"`
}

func (*DimensionValue) EntityKind() EntityKind { return KindDimension }
func (d *DimensionValue) EntityID() string { return d.Name }
func (d *DimensionValue) EntityLabel() string { return d.Name }
func (d *DimensionValue) SetEntityLabel(name string) { d.Name = name }
func (d *DimensionValue) Times() (time.Time, time.Time) { return time.Time{}, time.Time{} }

// Dimension names a dimension table.
type Dimension string

const (
	DimNeuronCategory   Dimension = "neuron_categories"
	DimArborizationArea Dimension = "arborization_areas"
	DimCellBodyRegion   Dimension = "cell_body_regions"
	DimAxonalTract      Dimension = "axonal_tracts"
)

// Dimensions returns all dimension tables in namespace order.
func Dimensions() []Dimension {
	return []Dimension{DimArborizationArea, DimAxonalTract, DimCellBodyRegion, DimNeuronCategory}
}

// Table returns the SQL table name.
func (d Dimension) Table() string { return string(d) }

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions() {
		if d == known {
			return true
		}
	}
	return false
}

// NewEntity returns an empty model for kind, or nil for dimensions and
// unknown kinds.
func NewEntity(kind EntityKind) Entity {
	switch kind {
	case KindScientist:
		return &Scientist{}
	case KindExperiment:
		return &Experiment{}
	case KindTissueSample:
		return &TissueSample{}
	case KindNeuron:
		return &Neuron{}
	case KindRepresentation:
		return &NeuroRepresentation{}
	case KindFile:
		return &File{}
	}
	return nil
}

// ParentID returns the id of the entity's parent row, or "" for scientists
// and dimension values.
func ParentID(e Entity) string {
	switch v := e.(type) {
	case *Experiment:
		return v.ScientistID
	case *TissueSample:
		return v.ExperimentID
	case *Neuron:
		return v.TissueSampleID
	case *NeuroRepresentation:
		return v.TissueSampleID
	case *File:
		return v.NeuroRepresentationID
	}
	return ""
}

// SetParentID sets the parent foreign key of e. It is a no-op for kinds
// without a parent.
func SetParentID(e Entity, parentID string) {
	switch v := e.(type) {
	case *Experiment:
		v.ScientistID = parentID
	case *TissueSample:
		v.ExperimentID = parentID
	case *Neuron:
		v.TissueSampleID = parentID
	case *NeuroRepresentation:
		v.TissueSampleID = parentID
	case *File:
		v.NeuroRepresentationID = parentID
	}
}
