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

package rawdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"morphdepot/internal/common"
	"morphdepot/internal/storage"
)

// ProblemKind classifies a verification finding.
type ProblemKind string

const (
	ProblemFileChecksum      ProblemKind = "file-checksum"
	ProblemContainerChecksum ProblemKind = "container-checksum"
	ProblemMissingBlob       ProblemKind = "missing-blob"
	ProblemSizeMismatch      ProblemKind = "size-mismatch"
	ProblemOrphanBlob        ProblemKind = "orphan-blob"
	ProblemMissingFolder     ProblemKind = "missing-folder"
)

// Problem is one inconsistency between the catalog and the content folders.
type Problem struct {
	Kind      ProblemKind
	Container string // container label
	File      string // file name, empty for container-level problems
	Want      string
	Got       string
}

func (p Problem) String() string {
	target := p.Container
	if p.File != "" {
		target += "/" + p.File
	}
	if p.Want == "" && p.Got == "" {
		return fmt.Sprintf("%s: %s", p.Kind, target)
	}
	return fmt.Sprintf("%s: %s (want %s, got %s)", p.Kind, target, p.Want, p.Got)
}

// Report collects the problems found by Verify.
type Report struct {
	Containers int
	Files      int
	Problems   []Problem
}

// OK reports whether no problem was found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

// Err returns an Integrity error summarizing the problems, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	lines := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		lines[i] = p.String()
	}
	return common.Errorf("rawdata.Verify", "", common.KindIntegrity,
		"%d problem(s):\n%s", len(r.Problems), strings.Join(lines, "\n"))
}

// Verify re-hashes every stored file and recomputes every container
// checksum, comparing both against the catalog. Blobs present in a folder
// without a File row are reported as orphans.
func (s *Store) Verify(ctx context.Context) (*Report, error) {
	all, err := s.catalog.FindChildren(ctx, "", storage.RelAllRepresentations)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, e := range all {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		nr := e.(*storage.NeuroRepresentation)
		report.Containers++
		if err := s.verifyContainer(ctx, nr, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Store) verifyContainer(ctx context.Context, nr *storage.NeuroRepresentation, report *Report) error {
	files, err := s.Files(ctx, nr.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.FileName] = true
		report.Files++
		s.verifyFile(nr, f, report)
	}

	if sum := ContainerChecksum(files); sum != nr.Checksum {
		report.Problems = append(report.Problems, Problem{
			Kind: ProblemContainerChecksum, Container: nr.Label, Want: nr.Checksum, Got: sum,
		})
	}

	entries, err := s.fs.ReadDir(nr.ID)
	if errors.Is(err, os.ErrNotExist) {
		report.Problems = append(report.Problems, Problem{Kind: ProblemMissingFolder, Container: nr.Label})
		return nil
	}
	if err != nil {
		return common.E("rawdata.Verify", nr.Label, common.KindIO, err)
	}
	for _, entry := range entries {
		if !known[entry.Name()] {
			report.Problems = append(report.Problems, Problem{
				Kind: ProblemOrphanBlob, Container: nr.Label, File: entry.Name(),
			})
		}
	}
	return nil
}

func (s *Store) verifyFile(nr *storage.NeuroRepresentation, f *storage.File, report *Report) {
	r, err := s.Open(f)
	if err != nil {
		report.Problems = append(report.Problems, Problem{Kind: ProblemMissingBlob, Container: nr.Label, File: f.FileName})
		return
	}
	defer r.Close()

	sum, n, err := FileChecksum(r)
	if err != nil {
		report.Problems = append(report.Problems, Problem{
			Kind: ProblemMissingBlob, Container: nr.Label, File: f.FileName, Got: err.Error(),
		})
		return
	}
	if n != f.StSize {
		report.Problems = append(report.Problems, Problem{
			Kind: ProblemSizeMismatch, Container: nr.Label, File: f.FileName,
			Want: fmt.Sprint(f.StSize), Got: fmt.Sprint(n),
		})
	}
	if sum != f.Checksum {
		report.Problems = append(report.Problems, Problem{
			Kind: ProblemFileChecksum, Container: nr.Label, File: f.FileName, Want: f.Checksum, Got: sum,
		})
	}
}
