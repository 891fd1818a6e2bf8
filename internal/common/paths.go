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

package common

import "strings"

// Path is an immutable, normalized slash-separated path. It holds no empty
// segments, and the zero value is the root "/".
type Path struct {
	segs []string
}

// RootPath is the empty path.
var RootPath = Path{}

// NewPath parses raw, dropping leading, trailing and repeated slashes.
func NewPath(raw string) Path {
	parts := strings.Split(raw, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return Path{segs: segs}
}

// PathOf builds a path from segments. Segments containing a slash are split.
func PathOf(segments ...string) Path {
	return NewPath(strings.Join(segments, "/"))
}

// Len returns the number of segments.
func (p Path) Len() int { return len(p.segs) }

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segs))
	copy(out, p.segs)
	return out
}

// Segment returns the segment at i. Negative indices count from the end.
// Out of range indices return "".
func (p Path) Segment(i int) string {
	if i < 0 {
		i += len(p.segs)
	}
	if i < 0 || i >= len(p.segs) {
		return ""
	}
	return p.segs[i]
}

// At returns the one-segment path at index i (negative counts from the end).
func (p Path) At(i int) Path {
	s := p.Segment(i)
	if s == "" {
		return RootPath
	}
	return Path{segs: []string{s}}
}

// Slice returns the segments in [start, end). Negative bounds count from the
// end; bounds are clamped to the path length.
func (p Path) Slice(start, end int) Path {
	n := len(p.segs)
	clamp := func(i int) int {
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start, end = clamp(start), clamp(end)
	if start >= end {
		return RootPath
	}
	out := make([]string, end-start)
	copy(out, p.segs[start:end])
	return Path{segs: out}
}

// Head returns the first segment, or "" for the root.
func (p Path) Head() string { return p.Segment(0) }

// Tail returns p without its first segment.
func (p Path) Tail() Path { return p.Slice(1, len(p.segs)) }

// Base returns the last segment, or "/" for the root.
func (p Path) Base() string {
	if len(p.segs) == 0 {
		return "/"
	}
	return p.segs[len(p.segs)-1]
}

// Parent returns p without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return RootPath
	}
	return p.Slice(0, len(p.segs)-1)
}

// Join returns the concatenation of p and other.
func (p Path) Join(other Path) Path {
	out := make([]string, 0, len(p.segs)+len(other.segs))
	out = append(out, p.segs...)
	out = append(out, other.segs...)
	return Path{segs: out}
}

// Child returns p extended by name.
func (p Path) Child(name string) Path {
	return p.Join(NewPath(name))
}

// Equal compares segment by segment.
func (p Path) Equal(other Path) bool {
	if len(p.segs) != len(other.segs) {
		return false
	}
	for i := range p.segs {
		if p.segs[i] != other.segs[i] {
			return false
		}
	}
	return true
}

// String renders p with a single leading slash.
func (p Path) String() string {
	return "/" + strings.Join(p.segs, "/")
}

// ValidName reports whether name can be used as a single path segment.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}
