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

// Package infofile renders entities as info.yaml documents and parses
// edited documents back into entities.
//
// The document layout is defined by the yaml tags of the storage models.
// Two keys are synthesized: "checksum" (representations, read-only) and
// "neurons" (representations, labels of linked neurons).
package infofile

import (
	"bytes"
	"errors"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"morphdepot/internal/common"
	"morphdepot/internal/storage"
)

const (
	keyID       = "id"
	keyChecksum = "checksum"
	keyNeurons  = "neurons"
)

// DateLayout is the accepted format of experiment dates.
const DateLayout = "2006-01-02"

// Document is an entity together with the synthesized keys of its info file.
type Document struct {
	Entity  storage.Entity
	Neurons []string // representations only
}

// Marshal renders doc as YAML.
func Marshal(doc Document) ([]byte, error) {
	const op = "infofile.Marshal"
	var node yaml.Node
	if err := node.Encode(doc.Entity); err != nil {
		return nil, common.E(op, doc.Entity.EntityLabel(), common.KindFormat, err)
	}
	if nr, ok := doc.Entity.(*storage.NeuroRepresentation); ok {
		appendScalar(&node, keyChecksum, nr.Checksum)
		neurons := doc.Neurons
		if neurons == nil {
			neurons = []string{}
		}
		appendValue(&node, keyNeurons, neurons)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, common.E(op, doc.Entity.EntityLabel(), common.KindFormat, err)
	}
	if err := enc.Close(); err != nil {
		return nil, common.E(op, doc.Entity.EntityLabel(), common.KindFormat, err)
	}
	return buf.Bytes(), nil
}

func appendScalar(m *yaml.Node, key, value string) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

func appendValue(m *yaml.Node, key string, v any) {
	var value yaml.Node
	if err := value.Encode(v); err != nil {
		return
	}
	value.Style = yaml.FlowStyle
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&value,
	)
}

// Unmarshal parses an edited document for current and returns a fresh
// entity carrying current's identity, creation time and parent. Keys that
// are not part of the entity's layout are rejected.
//
// An empty document returns nil without error: there is nothing to apply.
func Unmarshal(content []byte, current storage.Entity) (*Document, error) {
	const op = "infofile.Unmarshal"
	label := current.EntityLabel()

	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, common.E(op, label, common.KindFormat, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.MappingNode {
		return nil, common.Errorf(op, label, common.KindFormat, "document is not a mapping")
	}
	mapping := root.Content[0]

	doc := &Document{}
	_, isRepr := current.(*storage.NeuroRepresentation)

	// Synthesized keys are stripped before the strict decode.
	kept := mapping.Content[:0:0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		k, v := mapping.Content[i], mapping.Content[i+1]
		switch {
		case isRepr && k.Value == keyChecksum:
			continue
		case isRepr && k.Value == keyNeurons:
			if v.Tag == "!!null" {
				continue
			}
			if err := v.Decode(&doc.Neurons); err != nil {
				return nil, common.E(op, label, common.KindFormat, err)
			}
			continue
		case k.Value == idKey(current):
			var id string
			if err := v.Decode(&id); err != nil {
				return nil, common.E(op, label, common.KindFormat, err)
			}
			if id != current.EntityID() {
				return nil, common.Errorf(op, label, common.KindPermissionDenied, "%s is read-only", k.Value)
			}
		}
		kept = append(kept, k, v)
	}
	stripped := *mapping
	stripped.Content = kept

	raw, err := yaml.Marshal(&stripped)
	if err != nil {
		return nil, common.E(op, label, common.KindFormat, err)
	}
	fresh := newLike(current)
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(fresh); err != nil && !errors.Is(err, io.EOF) {
		return nil, common.E(op, label, common.KindFormat, err)
	}

	carryOver(fresh, current)
	if err := validate(fresh); err != nil {
		return nil, common.E(op, label, common.KindFormat, err)
	}
	doc.Entity = fresh
	return doc, nil
}

// idKey returns the document key holding the entity's identifier.
func idKey(e storage.Entity) string {
	if _, ok := e.(*storage.DimensionValue); ok {
		return "name"
	}
	return keyID
}

func newLike(current storage.Entity) storage.Entity {
	if d, ok := current.(*storage.DimensionValue); ok {
		return &storage.DimensionValue{Dimension: d.Dimension}
	}
	return storage.NewEntity(current.EntityKind())
}

// carryOver copies the columns an info document never sets.
func carryOver(fresh, current storage.Entity) {
	switch v := fresh.(type) {
	case *storage.DimensionValue:
		v.Name = current.EntityID()
		return
	case *storage.NeuroRepresentation:
		v.Checksum = current.(*storage.NeuroRepresentation).Checksum
	}
	storage.SetParentID(fresh, storage.ParentID(current))
	if id := identity(fresh); id != nil {
		cur := identity(current)
		id.ID = cur.ID
		id.Ctime = cur.Ctime
		id.Mtime = cur.Mtime
	}
}

func identity(e storage.Entity) *storage.Identity {
	switch v := e.(type) {
	case *storage.Scientist:
		return &v.Identity
	case *storage.Experiment:
		return &v.Identity
	case *storage.TissueSample:
		return &v.Identity
	case *storage.Neuron:
		return &v.Identity
	case *storage.NeuroRepresentation:
		return &v.Identity
	}
	return nil
}

func validate(e storage.Entity) error {
	if _, ok := e.(*storage.DimensionValue); !ok && !common.ValidName(e.EntityLabel()) {
		return errors.New("label must be a valid file name")
	}
	if exp, ok := e.(*storage.Experiment); ok && exp.Date != "" {
		if _, err := time.Parse(DateLayout, exp.Date); err != nil {
			return errors.New("date must be YYYY-MM-DD")
		}
	}
	return nil
}

// MaxSize bounds an info document being edited.
const MaxSize = 1 << 20

// checkExtent rejects negative offsets and sizes and extents past limit.
func checkExtent(op string, off, n, limit int64) error {
	if off < 0 || n < 0 {
		return common.Errorf(op, "", common.KindFormat, "negative offset or size")
	}
	if off > limit || n > limit-off {
		return common.Errorf(op, "", common.KindFormat, "exceeds the maximum size of %d bytes", limit)
	}
	return nil
}

// Splice overlays buf onto base at off, zero-filling any gap. The result
// may not grow past limit.
func Splice(base, buf []byte, off, limit int64) ([]byte, error) {
	if err := checkExtent("infofile.Splice", off, int64(len(buf)), limit); err != nil {
		return nil, err
	}
	end := off + int64(len(buf))
	size := int64(len(base))
	if end > size {
		size = end
	}
	out := make([]byte, size)
	copy(out, base)
	copy(out[off:], buf)
	return out, nil
}

// Resize truncates or zero-extends content to size, which may not exceed limit.
func Resize(content []byte, size, limit int64) ([]byte, error) {
	if err := checkExtent("infofile.Resize", 0, size, limit); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, content)
	return out, nil
}
