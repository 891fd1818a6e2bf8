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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"morphdepot/internal/common"
	"morphdepot/internal/util"
)

// Relation selects which children FindChildren returns.
type Relation int

const (
	RelScientists      Relation = iota // all scientists; parent ignored
	RelAllExperiments                  // all experiments; parent ignored
	RelExperiments                     // experiments of a scientist
	RelTissueSamples                   // tissue samples of an experiment
	RelNeurons                         // neurons of a tissue sample
	RelRepresentations                 // representations of a tissue sample
	RelFiles                           // files of a representation
	RelLinkedNeurons                   // neurons linked to a representation
	RelAllRepresentations              // all representations; parent ignored
)

func (r Relation) String() string {
	switch r {
	case RelScientists:
		return "scientists"
	case RelAllExperiments:
		return "all-experiments"
	case RelExperiments:
		return "experiments"
	case RelTissueSamples:
		return "tissue-samples"
	case RelNeurons:
		return "neurons"
	case RelRepresentations:
		return "representations"
	case RelFiles:
		return "files"
	case RelLinkedNeurons:
		return "linked-neurons"
	case RelAllRepresentations:
		return "all-representations"
	}
	return fmt.Sprintf("relation(%d)", int(r))
}

// classify maps driver errors onto the error taxonomy.
func classify(op, subject string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return common.E(op, subject, common.KindNotFound, nil)
	case util.IsUniqueViolation(err):
		return common.E(op, subject, common.KindConflict, err)
	case util.IsForeignKeyViolation(err):
		return common.E(op, subject, common.KindIntegrity, err)
	}
	return common.E(op, subject, common.KindIO, err)
}

// --- Queries ---

// FindChildren returns the child entities of parentID for rel, ordered by
// label. Lock contention is retried.
func (s *Store) FindChildren(ctx context.Context, parentID string, rel Relation) ([]Entity, error) {
	return util.RetryWithResult(ctx, func() ([]Entity, error) {
		return FindChildrenWith(ctx, s.db, parentID, rel)
	})
}

// FindChildrenWith is FindChildren on an explicit connection or transaction.
func FindChildrenWith(ctx context.Context, idb bun.IDB, parentID string, rel Relation) ([]Entity, error) {
	var (
		out []Entity
		err error
	)
	switch rel {
	case RelScientists:
		var rows []*Scientist
		err = idb.NewSelect().Model(&rows).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelAllExperiments:
		var rows []*Experiment
		err = idb.NewSelect().Model(&rows).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelExperiments:
		var rows []*Experiment
		err = idb.NewSelect().Model(&rows).Where("scientist_id = ?", parentID).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelTissueSamples:
		var rows []*TissueSample
		err = idb.NewSelect().Model(&rows).Where("experiment_id = ?", parentID).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelNeurons:
		var rows []*Neuron
		err = idb.NewSelect().Model(&rows).Where("tissue_sample_id = ?", parentID).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelRepresentations:
		var rows []*NeuroRepresentation
		err = idb.NewSelect().Model(&rows).Where("tissue_sample_id = ?", parentID).Order("label").Scan(ctx)
		out = toEntities(rows)
	case RelFiles:
		var rows []*File
		err = idb.NewSelect().Model(&rows).Where("neuro_representation_id = ?", parentID).Order("file_name").Scan(ctx)
		out = toEntities(rows)
	case RelLinkedNeurons:
		var rows []*Neuron
		err = idb.NewSelect().Model(&rows).
			Where("id IN (SELECT neuron_id FROM neuron_nr_maps WHERE nr_id = ?)", parentID).
			Order("label").
			Scan(ctx)
		out = toEntities(rows)
	case RelAllRepresentations:
		var rows []*NeuroRepresentation
		err = idb.NewSelect().Model(&rows).Order("label").Scan(ctx)
		out = toEntities(rows)
	default:
		return nil, common.Errorf("find", rel.String(), common.KindUnsupported, "unknown relation")
	}
	if err != nil {
		return nil, classify("find "+rel.String(), parentID, err)
	}
	return out, nil
}

func toEntities[T Entity](rows []T) []Entity {
	out := make([]Entity, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// FindByID loads one entity. Missing rows are NotFound.
func (s *Store) FindByID(ctx context.Context, kind EntityKind, id string) (Entity, error) {
	return util.RetryWithResult(ctx, func() (Entity, error) {
		return FindByIDWith(ctx, s.db, kind, id)
	})
}

// FindByIDWith is FindByID on an explicit connection or transaction.
func FindByIDWith(ctx context.Context, idb bun.IDB, kind EntityKind, id string) (Entity, error) {
	e := NewEntity(kind)
	if e == nil {
		return nil, common.Errorf("find", id, common.KindUnsupported, "no lookup by id for %s", kind)
	}
	err := idb.NewSelect().Model(e).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, classify("find "+string(kind), id, err)
	}
	return e, nil
}

// FindByLabel loads one entity by its unique label (file name for files is
// not unique across containers and is rejected).
func (s *Store) FindByLabel(ctx context.Context, kind EntityKind, label string) (Entity, error) {
	if kind == KindFile {
		return nil, common.Errorf("find", label, common.KindUnsupported, "files are looked up by container")
	}
	e := NewEntity(kind)
	if e == nil {
		return nil, common.Errorf("find", label, common.KindUnsupported, "no lookup by label for %s", kind)
	}
	err := s.db.NewSelect().Model(e).Where("label = ?", label).Scan(ctx)
	if err != nil {
		return nil, classify("find "+string(kind), label, err)
	}
	return e, nil
}

// --- Mutations ---

// Save inserts e when it has never been stored (zero creation time) and
// updates it otherwise. New entities get a uuid when ID is empty; every
// save bumps the modification time.
func (s *Store) Save(ctx context.Context, e Entity) error {
	return util.Retry(ctx, func() error {
		return SaveWith(ctx, s.db, e)
	})
}

// SaveWith is Save on an explicit connection or transaction.
func SaveWith(ctx context.Context, idb bun.IDB, e Entity) error {
	if d, ok := e.(*DimensionValue); ok {
		return saveDimensionWith(ctx, idb, d)
	}
	now := time.Now().Unix()
	created := stampTimes(e, now)
	var err error
	if created {
		if _, err = idb.NewInsert().Model(e).Exec(ctx); err != nil {
			// still new: a retried save must insert again
			clearCtime(e)
		}
	} else {
		_, err = idb.NewUpdate().Model(e).WherePK().Exec(ctx)
	}
	return classify("save "+string(e.EntityKind()), e.EntityLabel(), err)
}

// stampTimes sets ids and timestamps and reports whether e is new.
func stampTimes(e Entity, now int64) bool {
	switch v := e.(type) {
	case *File:
		created := v.Ctime == 0
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		if created {
			v.Ctime = now
		}
		v.Mtime = now
		return created
	}
	id := identityOf(e)
	if id == nil {
		return false
	}
	created := id.Ctime == 0
	if id.ID == "" {
		id.ID = uuid.New().String()
	}
	if created {
		id.Ctime = now
	}
	id.Mtime = now
	return created
}

func clearCtime(e Entity) {
	if f, ok := e.(*File); ok {
		f.Ctime = 0
		return
	}
	if id := identityOf(e); id != nil {
		id.Ctime = 0
	}
}

func identityOf(e Entity) *Identity {
	switch v := e.(type) {
	case *Scientist:
		return &v.Identity
	case *Experiment:
		return &v.Identity
	case *TissueSample:
		return &v.Identity
	case *Neuron:
		return &v.Identity
	case *NeuroRepresentation:
		return &v.Identity
	}
	return nil
}

// Delete removes the entity's row. Rows still referenced by children fail
// with an Integrity error; neuron links are removed by cascade.
func (s *Store) Delete(ctx context.Context, e Entity) error {
	return util.Retry(ctx, func() error {
		return DeleteWith(ctx, s.db, e)
	})
}

// DeleteWith is Delete on an explicit connection or transaction.
func DeleteWith(ctx context.Context, idb bun.IDB, e Entity) error {
	if d, ok := e.(*DimensionValue); ok {
		return deleteDimensionWith(ctx, idb, d)
	}
	res, err := idb.NewDelete().Model(e).WherePK().Exec(ctx)
	if err != nil {
		return classify("delete "+string(e.EntityKind()), e.EntityLabel(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.E("delete "+string(e.EntityKind()), e.EntityLabel(), common.KindNotFound, nil)
	}
	return nil
}

// --- Neuron links ---

// SetLinkedNeuronsWith replaces the set of neurons linked to a representation.
func SetLinkedNeuronsWith(ctx context.Context, idb bun.IDB, nrID string, neuronIDs []string) error {
	if _, err := idb.NewDelete().Model((*NeuronLink)(nil)).Where("nr_id = ?", nrID).Exec(ctx); err != nil {
		return classify("unlink neurons", nrID, err)
	}
	if len(neuronIDs) == 0 {
		return nil
	}
	links := make([]*NeuronLink, 0, len(neuronIDs))
	for _, id := range neuronIDs {
		links = append(links, &NeuronLink{NeuronID: id, NrID: nrID})
	}
	if _, err := idb.NewInsert().Model(&links).Exec(ctx); err != nil {
		return classify("link neurons", nrID, err)
	}
	return nil
}

// UnlinkNeuronWith removes every link of a neuron.
func UnlinkNeuronWith(ctx context.Context, idb bun.IDB, neuronID string) error {
	if _, err := idb.NewDelete().Model((*NeuronLink)(nil)).Where("neuron_id = ?", neuronID).Exec(ctx); err != nil {
		return classify("unlink neuron", neuronID, err)
	}
	return nil
}

// --- Statistics ---

// Stats summarizes catalog contents.
type Stats struct {
	Scientists      int
	Experiments     int
	TissueSamples   int
	Neurons         int
	Representations int
	Files           int
	TotalBytes      int64
}

// Stats counts rows per entity table and sums raw file sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		model any
		dst   *int
	}{
		{(*Scientist)(nil), &st.Scientists},
		{(*Experiment)(nil), &st.Experiments},
		{(*TissueSample)(nil), &st.TissueSamples},
		{(*Neuron)(nil), &st.Neurons},
		{(*NeuroRepresentation)(nil), &st.Representations},
		{(*File)(nil), &st.Files},
	}
	for _, c := range counts {
		n, err := s.db.NewSelect().Model(c.model).Count(ctx)
		if err != nil {
			return st, classify("stats", "", err)
		}
		*c.dst = n
	}
	var total sql.NullInt64
	if err := s.db.NewRaw("SELECT SUM(st_size) FROM files").Scan(ctx, &total); err != nil {
		return st, classify("stats", "", err)
	}
	st.TotalBytes = total.Int64
	return st, nil
}
