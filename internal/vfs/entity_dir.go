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

package vfs

import (
	"bytes"
	"context"

	"github.com/uptrace/bun"

	"morphdepot/internal/common"
	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
)

// EntityDirectory is a folder backed by one entity (item folder) or by a
// query over the store (collection folder).
type EntityDirectory struct {
	base
	env   *env
	level level

	entity storage.Entity    // item folders
	owner  string            // neurons collection: tissue sample id
	dim    storage.Dimension // dimension collections and values
}

func (d *EntityDirectory) item(lv level, e storage.Entity) *EntityDirectory {
	return &EntityDirectory{
		base:   base{path: d.path.Child(e.EntityLabel()), mode: lv.mode()},
		env:    d.env,
		level:  lv,
		entity: e,
		dim:    d.dim,
	}
}

// Entity returns the backing entity of an item folder, nil for collections.
func (d *EntityDirectory) Entity() storage.Entity { return d.entity }

func (d *EntityDirectory) Attr(ctx context.Context) (Stat, error) {
	if d.entity == nil || d.level == levelDimensionValue {
		s := d.env.started
		return NewStat(d.mode, DirSize, WithTimes(s, s, s)), nil
	}
	ctime, mtime := d.entity.Times()
	return StatFromTimes(d.mode, DirSize, ctime, mtime), nil
}

func (d *EntityDirectory) Access(ctx context.Context, mask uint32) error {
	return checkAccess(d, mask, d.mode == ModeDirRW)
}

func (d *EntityDirectory) List(ctx context.Context) ([]VirtualNode, error) {
	var out []VirtualNode
	if !d.level.collection() {
		out = append(out, d.infoFile())
	}

	switch d.level {
	case levelDimension:
		values, err := d.env.catalog.ListDimension(ctx, d.dim)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, d.item(levelDimensionValue, v))
		}
		return out, nil

	case levelTissueSample:
		out = append(out, d.env.collection(d.path.Child(NeuronsDir), levelNeurons, d.entity.EntityID()))

	case levelRepresentation:
		files, err := d.env.content.Files(ctx, d.entity.EntityID())
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, newRawFile(d, f))
		}
		return out, nil
	}

	rel, parentID, ok := d.childRelation()
	if !ok {
		return out, nil
	}
	children, err := d.env.catalog.FindChildren(ctx, parentID, rel)
	if err != nil {
		return nil, err
	}
	lv, _ := d.level.child()
	for _, c := range children {
		out = append(out, d.item(lv, c))
	}
	return out, nil
}

// childRelation returns the store query listing this folder's child folders.
func (d *EntityDirectory) childRelation() (storage.Relation, string, bool) {
	switch d.level {
	case levelScientists:
		return storage.RelScientists, "", true
	case levelAllExperiments:
		return storage.RelAllExperiments, "", true
	case levelScientist:
		return storage.RelExperiments, d.entity.EntityID(), true
	case levelExperiment:
		return storage.RelTissueSamples, d.entity.EntityID(), true
	case levelTissueSample:
		return storage.RelRepresentations, d.entity.EntityID(), true
	case levelNeurons:
		return storage.RelNeurons, d.owner, true
	}
	return 0, "", false
}

func (d *EntityDirectory) infoFile() *EntityInfoFile {
	return &EntityInfoFile{
		base:   base{path: d.path.Child(InfoFileName), mode: ModeFileRW},
		env:    d.env,
		entity: d.entity,
	}
}

func (d *EntityDirectory) Read(ctx context.Context, size int, off int64) ([]byte, error) {
	return nil, isDir("read", d)
}

func (d *EntityDirectory) Write(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, isDir("write", d)
}

func (d *EntityDirectory) Resolve(ctx context.Context, p common.Path) (VirtualNode, error) {
	return Resolve(ctx, d, p)
}

// Mkdir creates the entity of the level below this folder.
func (d *EntityDirectory) Mkdir(ctx context.Context, name string) (VirtualNode, error) {
	const op = "mkdir"
	p := d.path.Child(name).String()
	if !common.ValidName(name) {
		return nil, common.Errorf(op, p, common.KindFormat, "invalid name")
	}
	if reserved(name) {
		return nil, common.Errorf(op, p, common.KindConflict, "reserved name")
	}

	var e storage.Entity
	switch d.level {
	case levelScientists:
		e = storage.NewScientist(name)
	case levelScientist:
		e = &storage.Experiment{Identity: storage.Identity{Label: name}, ScientistID: d.entity.EntityID()}
	case levelExperiment:
		e = &storage.TissueSample{Identity: storage.Identity{Label: name}, ExperimentID: d.entity.EntityID()}
	case levelNeurons:
		e = &storage.Neuron{Identity: storage.Identity{Label: name}, TissueSampleID: d.owner}
	case levelDimension:
		v := &storage.DimensionValue{Dimension: d.dim, Name: name}
		if err := d.env.catalog.CreateDimensionValue(ctx, v); err != nil {
			return nil, err
		}
		return d.item(levelDimensionValue, v), nil
	case levelTissueSample:
		nr, err := d.env.content.CreateContainer(ctx, d.entity.EntityID(), name)
		if err != nil {
			return nil, err
		}
		return d.item(levelRepresentation, nr), nil
	default:
		return nil, common.Errorf(op, p, common.KindUnsupported, "cannot create folders in %s", d.level)
	}

	if err := d.env.catalog.Save(ctx, e); err != nil {
		return nil, err
	}
	lv, _ := d.level.child()
	return d.item(lv, e), nil
}

// CanCreate reports whether regular files can be created in this folder.
func (d *EntityDirectory) CanCreate() bool {
	return d.level == levelRepresentation
}

// CreateFile adds a raw file to a representation through the content store.
func (d *EntityDirectory) CreateFile(ctx context.Context, name string, content []byte) error {
	const op = "create"
	p := d.path.Child(name).String()
	if !d.CanCreate() {
		return common.Errorf(op, p, common.KindUnsupported, "cannot create files in %s", d.level)
	}
	if reserved(name) {
		return common.Errorf(op, p, common.KindConflict, "reserved name")
	}
	_, err := d.env.content.AddFile(ctx, d.entity.EntityID(), name, bytes.NewReader(content), rawdata.FileTimes{})
	return err
}

// Remove deletes the backing entity. Representations take their files
// and content folder with them; every other entity must be childless.
func (d *EntityDirectory) Remove(ctx context.Context) error {
	if d.entity == nil {
		return common.Errorf("rmdir", d.path.String(), common.KindUnsupported, "cannot remove %s", d.level)
	}
	if d.level == levelRepresentation {
		return d.env.content.DeleteContainer(ctx, d.entity.EntityID())
	}
	return d.env.catalog.Delete(ctx, d.entity)
}

// adopt returns the parent id this folder gives to entities moved into
// it, and false when moving here keeps the current parent.
func (d *EntityDirectory) adopt() (string, bool) {
	switch d.level {
	case levelScientists, levelAllExperiments:
		return "", false
	case levelNeurons:
		return d.owner, true
	}
	return d.entity.EntityID(), true
}

// Rename relabels the backing entity and moves it under newParent. The
// caller has checked that newParent is a folder of the same level as the
// current parent.
func (d *EntityDirectory) Rename(ctx context.Context, newParent VirtualNode, newName string) error {
	const op = "rename"
	target := newParent.Path().Child(newName).String()
	if d.entity == nil || d.level == levelDimensionValue {
		return common.Errorf(op, d.path.String(), common.KindUnsupported, "cannot rename %s", d.level)
	}
	parent, ok := newParent.(*EntityDirectory)
	if !ok {
		return common.Errorf(op, target, common.KindFormat, "target is not a folder of the same kind")
	}
	if !common.ValidName(newName) {
		return common.Errorf(op, target, common.KindFormat, "invalid name")
	}
	if reserved(newName) {
		return common.Errorf(op, target, common.KindConflict, "reserved name")
	}

	current, err := d.env.catalog.FindByID(ctx, d.entity.EntityKind(), d.entity.EntityID())
	if err != nil {
		return err
	}
	oldParentID := storage.ParentID(current)
	current.SetEntityLabel(newName)
	parentID, reparent := parent.adopt()
	if reparent {
		storage.SetParentID(current, parentID)
	}
	moved := reparent && parentID != oldParentID

	return d.env.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := storage.SaveWith(ctx, tx, current); err != nil {
			return err
		}
		if !moved {
			return nil
		}
		// links only connect neurons and representations of one tissue sample
		switch current.(type) {
		case *storage.Neuron:
			return storage.UnlinkNeuronWith(ctx, tx, current.EntityID())
		case *storage.NeuroRepresentation:
			return storage.SetLinkedNeuronsWith(ctx, tx, current.EntityID(), nil)
		}
		return nil
	})
}
