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

package daemon

import (
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"morphdepot/internal/rawdata"
)

// NameFilter matches the junk file names that editors and file managers
// drop into a mount (.DS_Store, AppleDouble "._" files, swap files).
// Patterns use gitignore syntax, including "!" negation. Only base names
// are matched: the namespace has no nested user paths.
type NameFilter struct {
	matcher *ignore.GitIgnore
}

// NewNameFilter compiles patterns. Blank lines and # comments are skipped.
func NewNameFilter(patterns []string) *NameFilter {
	var lines []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		lines = append(lines, p)
	}
	if len(lines) == 0 {
		return &NameFilter{}
	}
	return &NameFilter{matcher: ignore.CompileIgnoreLines(lines...)}
}

// Ignored reports whether name matches the patterns.
func (f *NameFilter) Ignored(name string) bool {
	if f == nil || f.matcher == nil {
		return false
	}
	return f.matcher.MatchesPath(name)
}

// Accept is the inverse of Ignored, in the shape of an import filter.
func (f *NameFilter) Accept() rawdata.FileFilter {
	return func(name string) bool {
		return !f.Ignored(name)
	}
}
