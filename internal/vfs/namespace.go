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
	"time"

	"morphdepot/internal/common"
	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
)

// Fixed names of the namespace.
const (
	ScientistsDir  = "scientists"
	ExperimentsDir = "experiments"
	OptionsDir     = "options"
	NeuronsDir     = "neurons"
	InfoFileName   = rawdata.ReservedName
)

// reserved reports whether name may not be used as an entity label.
func reserved(name string) bool {
	return name == InfoFileName || name == NeuronsDir
}

// level identifies what kind of folder an EntityDirectory is.
type level int

const (
	levelScientists     level = iota // /scientists
	levelAllExperiments              // /experiments
	levelScientist
	levelExperiment
	levelTissueSample
	levelNeurons // <tissue>/neurons
	levelNeuron
	levelRepresentation
	levelDimension // /options/<dimension>
	levelDimensionValue
)

func (l level) String() string {
	switch l {
	case levelScientists:
		return "scientists"
	case levelAllExperiments:
		return "experiments"
	case levelScientist:
		return "scientist"
	case levelExperiment:
		return "experiment"
	case levelTissueSample:
		return "tissue sample"
	case levelNeurons:
		return "neurons"
	case levelNeuron:
		return "neuron"
	case levelRepresentation:
		return "neuro representation"
	case levelDimension:
		return "dimension"
	case levelDimensionValue:
		return "dimension value"
	}
	return "unknown"
}

// collection reports whether folders of this level list a query result
// rather than one entity.
func (l level) collection() bool {
	switch l {
	case levelScientists, levelAllExperiments, levelNeurons, levelDimension:
		return true
	}
	return false
}

// child returns the level of item folders created inside l, and false
// when l has no child folders.
func (l level) child() (level, bool) {
	switch l {
	case levelScientists:
		return levelScientist, true
	case levelAllExperiments, levelScientist:
		return levelExperiment, true
	case levelExperiment:
		return levelTissueSample, true
	case levelTissueSample:
		return levelRepresentation, true
	case levelNeurons:
		return levelNeuron, true
	case levelDimension:
		return levelDimensionValue, true
	}
	return 0, false
}

// mode returns the permission bits of folders of this level: writable
// when something can be created inside.
func (l level) mode() Mode {
	switch l {
	case levelAllExperiments, levelNeuron, levelDimensionValue:
		return ModeDirRO
	}
	return ModeDirRW
}

// env carries the stores every entity-backed node reads and writes.
type env struct {
	catalog *storage.Store
	content *rawdata.Store
	started time.Time
}

// root builds the namespace root:
//
//	/scientists/...
//	/experiments/...
//	/options/<dimension>/<value>/info.yaml
func (e *env) root() VirtualNode {
	rootPath := common.RootPath
	optionsPath := rootPath.Child(OptionsDir)

	dims := make([]VirtualNode, 0, len(storage.Dimensions()))
	for _, d := range storage.Dimensions() {
		dims = append(dims, &EntityDirectory{
			base:  base{path: optionsPath.Child(string(d)), mode: levelDimension.mode()},
			env:   e,
			level: levelDimension,
			dim:   d,
		})
	}

	return NewStaticNode(rootPath, e.started,
		e.collection(rootPath.Child(ScientistsDir), levelScientists, ""),
		e.collection(rootPath.Child(ExperimentsDir), levelAllExperiments, ""),
		NewStaticNode(optionsPath, e.started, dims...),
	)
}

func (e *env) collection(p common.Path, lv level, owner string) *EntityDirectory {
	return &EntityDirectory{
		base:  base{path: p, mode: lv.mode()},
		env:   e,
		level: lv,
		owner: owner,
	}
}
