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

	"morphdepot/internal/common"
)

// access(2) mask bits.
const (
	AccessExists  uint32 = 0
	AccessExecute uint32 = 1
	AccessWrite   uint32 = 2
	AccessRead    uint32 = 4
)

// VirtualNode is a file or directory of the namespace. Nodes are built
// from current store state on every call and are never cached.
type VirtualNode interface {
	Path() common.Path
	Name() string
	Mode() Mode
	Attr(ctx context.Context) (Stat, error)
	Access(ctx context.Context, mask uint32) error
	List(ctx context.Context) ([]VirtualNode, error)
	Read(ctx context.Context, size int, off int64) ([]byte, error)
	Write(ctx context.Context, buf []byte, off int64) (int, error)
	Resolve(ctx context.Context, p common.Path) (VirtualNode, error)
}

// Mkdirer is implemented by directories that create child folders.
type Mkdirer interface {
	Mkdir(ctx context.Context, name string) (VirtualNode, error)
}

// Creator is implemented by directories that accept new regular files.
// The content is supplied in full when the file is committed.
type Creator interface {
	CanCreate() bool
	CreateFile(ctx context.Context, name string, content []byte) error
}

// Remover is implemented by nodes whose backing entity can be deleted.
type Remover interface {
	Remove(ctx context.Context) error
}

// Renamer is implemented by nodes that can be relabelled and moved to a
// sibling folder of the same kind.
type Renamer interface {
	Rename(ctx context.Context, newParent VirtualNode, newName string) error
}

// Truncater is implemented by writable files.
type Truncater interface {
	Truncate(ctx context.Context, size int64) error
}

// Committer is implemented by files whose whole content can be replaced.
type Committer interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Commit(ctx context.Context, content []byte) error
}

// Resolve walks p from n one segment at a time. A segment matching no
// child, or more than one, is NotFound.
func Resolve(ctx context.Context, n VirtualNode, p common.Path) (VirtualNode, error) {
	if p.IsRoot() {
		return n, nil
	}
	if !n.Mode().IsDir() {
		return nil, common.Errorf("resolve", n.Path().Join(p).String(), common.KindNotFound, "not a directory")
	}
	children, err := n.List(ctx)
	if err != nil {
		return nil, err
	}
	name := p.Head()
	var match VirtualNode
	for _, c := range children {
		if c.Name() != name {
			continue
		}
		if match != nil {
			return nil, &DuplicateError{Path: n.Path().Child(name)}
		}
		match = c
	}
	if match == nil {
		return nil, common.E("resolve", n.Path().Child(name).String(), common.KindNotFound, nil)
	}
	return match.Resolve(ctx, p.Tail())
}

// DuplicateError reports a name that more than one child carries. It
// resolves as NotFound; adapters log it as an integrity problem.
type DuplicateError struct {
	Path common.Path
}

func (e *DuplicateError) Error() string {
	return "duplicate entries for " + e.Path.String()
}

func (e *DuplicateError) Unwrap() error {
	return common.ErrNotFound
}

// base holds the fields every node shares.
type base struct {
	path common.Path
	mode Mode
}

func (b *base) Path() common.Path { return b.path }
func (b *base) Name() string      { return b.path.Base() }
func (b *base) Mode() Mode        { return b.mode }

// checkAccess applies the coarse access policy: existence always passes,
// execute only on directories, write only where allowed.
func checkAccess(n VirtualNode, mask uint32, writable bool) error {
	const op = "access"
	if mask == AccessExists {
		return nil
	}
	if mask&AccessExecute != 0 && !n.Mode().IsDir() {
		return common.E(op, n.Path().String(), common.KindPermissionDenied, nil)
	}
	if mask&AccessWrite != 0 && !writable {
		return common.E(op, n.Path().String(), common.KindPermissionDenied, nil)
	}
	return nil
}

func readOnly(op string, n VirtualNode) error {
	return common.E(op, n.Path().String(), common.KindPermissionDenied, nil)
}

func notDir(op string, n VirtualNode) error {
	return common.Errorf(op, n.Path().String(), common.KindUnsupported, "not a directory")
}

func isDir(op string, n VirtualNode) error {
	return common.Errorf(op, n.Path().String(), common.KindUnsupported, "is a directory")
}
