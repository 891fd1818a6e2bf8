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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"morphdepot/internal/common"
)

// FileFilter reports whether a file name found by an import is included.
type FileFilter func(name string) bool

// ImportConfig configures a directory import.
type ImportConfig struct {
	// SkipHidden skips names starting with '.' (and so AppleDouble "._" files)
	SkipHidden bool
	// AllowPartial keeps going after a failed file and records it as skipped
	AllowPartial bool
	// Filter, when set, must accept a name for it to be imported
	Filter FileFilter
}

// DefaultImportConfig returns the configuration used by the CLI.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{SkipHidden: true}
}

// ImportResult summarizes a directory import.
type ImportResult struct {
	TotalFiles   int
	CopiedFiles  int
	CopiedBytes  int64
	SkippedFiles []string
	Duration     time.Duration
}

// ImportDir adds every regular file directly inside hostDir to the
// container, in name order. Containers are flat: subdirectories and
// symlinks are reported as skipped. Each file is its own AddFile, so a
// failure leaves the files imported before it in place.
func (s *Store) ImportDir(ctx context.Context, containerID, hostDir string, cfg ImportConfig) (*ImportResult, error) {
	const op = "rawdata.ImportDir"
	start := time.Now()
	result := &ImportResult{}

	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return result, common.E(op, hostDir, common.KindIO, err)
	}
	src := osfs.New(abs)
	entries, err := src.ReadDir("/")
	if err != nil {
		return result, common.E(op, hostDir, common.KindIO, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, fi := range entries {
		name := fi.Name()
		if cfg.SkipHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if cfg.Filter != nil && !cfg.Filter(name) {
			continue
		}
		if !fi.Mode().IsRegular() {
			result.SkippedFiles = append(result.SkippedFiles, name+": not a regular file")
			continue
		}
		result.TotalFiles++

		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.importOne(ctx, src, containerID, fi); err != nil {
			if !cfg.AllowPartial {
				return result, err
			}
			result.SkippedFiles = append(result.SkippedFiles, name+": "+err.Error())
			continue
		}
		result.CopiedFiles++
		result.CopiedBytes += fi.Size()
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Store) importOne(ctx context.Context, src billy.Filesystem, containerID string, fi os.FileInfo) error {
	f, err := src.Open(fi.Name())
	if err != nil {
		return common.E("rawdata.ImportDir", fi.Name(), common.KindIO, err)
	}
	defer f.Close()
	_, err = s.AddFile(ctx, containerID, fi.Name(), f, FileTimes{Mtime: fi.ModTime()})
	return err
}
