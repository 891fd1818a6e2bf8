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
	"context"

	"github.com/uptrace/bun"

	"morphdepot/internal/common"
	"morphdepot/internal/infofile"
	"morphdepot/internal/storage"
)

// EntityInfoFile is the info.yaml of an item folder.
type EntityInfoFile struct {
	base
	env    *env
	entity storage.Entity
}

// Snapshot renders the entity's current document.
func (f *EntityInfoFile) Snapshot(ctx context.Context) ([]byte, error) {
	doc := infofile.Document{Entity: f.entity}
	if nr, ok := f.entity.(*storage.NeuroRepresentation); ok {
		linked, err := f.env.catalog.FindChildren(ctx, nr.ID, storage.RelLinkedNeurons)
		if err != nil {
			return nil, err
		}
		doc.Neurons = make([]string, len(linked))
		for i, n := range linked {
			doc.Neurons[i] = n.EntityLabel()
		}
	}
	return infofile.Marshal(doc)
}

func (f *EntityInfoFile) Attr(ctx context.Context) (Stat, error) {
	content, err := f.Snapshot(ctx)
	if err != nil {
		return Stat{}, err
	}
	if _, ok := f.entity.(*storage.DimensionValue); ok {
		s := f.env.started
		return NewStat(f.mode, int64(len(content)), WithTimes(s, s, s)), nil
	}
	ctime, mtime := f.entity.Times()
	return StatFromTimes(f.mode, int64(len(content)), ctime, mtime), nil
}

func (f *EntityInfoFile) Access(ctx context.Context, mask uint32) error {
	return checkAccess(f, mask, true)
}

func (f *EntityInfoFile) List(ctx context.Context) ([]VirtualNode, error) {
	return nil, notDir("readdir", f)
}

func (f *EntityInfoFile) Read(ctx context.Context, size int, off int64) ([]byte, error) {
	content, err := f.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return window(content, size, off), nil
}

// Write splices buf into the current document at off and commits the result.
func (f *EntityInfoFile) Write(ctx context.Context, buf []byte, off int64) (int, error) {
	content, err := f.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	edited, err := infofile.Splice(content, buf, off, infofile.MaxSize)
	if err != nil {
		return 0, err
	}
	if err := f.Commit(ctx, edited); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Truncate cuts or zero-extends the document and commits the result.
func (f *EntityInfoFile) Truncate(ctx context.Context, size int64) error {
	content, err := f.Snapshot(ctx)
	if err != nil {
		return err
	}
	resized, err := infofile.Resize(content, size, infofile.MaxSize)
	if err != nil {
		return err
	}
	return f.Commit(ctx, resized)
}

func (f *EntityInfoFile) Resolve(ctx context.Context, p common.Path) (VirtualNode, error) {
	return Resolve(ctx, f, p)
}

// Remove always fails: an item folder cannot exist without its info file.
func (f *EntityInfoFile) Remove(ctx context.Context) error {
	return readOnly("unlink", f)
}

// Commit replaces the whole document. The entity is re-read from the store
// first; the edited copy and, for representations, the neuron links are
// written in one transaction. An empty document changes nothing.
func (f *EntityInfoFile) Commit(ctx context.Context, content []byte) error {
	const op = "commit"
	current, err := f.current(ctx)
	if err != nil {
		return err
	}
	doc, err := infofile.Unmarshal(content, current)
	if err != nil || doc == nil {
		return err
	}
	if label := doc.Entity.EntityLabel(); label != current.EntityLabel() && reserved(label) {
		return common.Errorf(op, f.path.String(), common.KindConflict, "reserved name %q", label)
	}

	return f.env.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := storage.SaveWith(ctx, tx, doc.Entity); err != nil {
			return err
		}
		nr, ok := doc.Entity.(*storage.NeuroRepresentation)
		if !ok {
			return nil
		}
		ids, err := f.neuronIDs(ctx, tx, nr.TissueSampleID, doc.Neurons)
		if err != nil {
			return err
		}
		return storage.SetLinkedNeuronsWith(ctx, tx, nr.ID, ids)
	})
}

func (f *EntityInfoFile) current(ctx context.Context) (storage.Entity, error) {
	if d, ok := f.entity.(*storage.DimensionValue); ok {
		v, err := f.env.catalog.GetDimensionValue(ctx, d.Dimension, d.Name)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return f.env.catalog.FindByID(ctx, f.entity.EntityKind(), f.entity.EntityID())
}

// neuronIDs maps neuron labels to ids among the neurons of one tissue sample.
func (f *EntityInfoFile) neuronIDs(ctx context.Context, idb bun.IDB, tissueSampleID string, labels []string) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	neurons, err := storage.FindChildrenWith(ctx, idb, tissueSampleID, storage.RelNeurons)
	if err != nil {
		return nil, err
	}
	byLabel := make(map[string]string, len(neurons))
	for _, n := range neurons {
		byLabel[n.EntityLabel()] = n.EntityID()
	}
	seen := make(map[string]bool, len(labels))
	ids := make([]string, 0, len(labels))
	for _, label := range labels {
		id, ok := byLabel[label]
		if !ok {
			return nil, common.Errorf("commit", f.path.String(), common.KindFormat, "no neuron %q in this tissue sample", label)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// entityKey identifies an entity's row independent of its path, so state
// keyed by it follows renames and dies with the row.
func entityKey(e storage.Entity) string {
	if d, ok := e.(*storage.DimensionValue); ok {
		return string(d.Dimension) + "/" + d.Name
	}
	return string(e.EntityKind()) + "/" + e.EntityID()
}

// window returns at most size bytes of content starting at off.
func window(content []byte, size int, off int64) []byte {
	if off < 0 || off >= int64(len(content)) || size <= 0 {
		return []byte{}
	}
	end := off + int64(size)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[off:end]
}
