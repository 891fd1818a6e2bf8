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
	"time"

	"morphdepot/internal/common"
)

// StaticNode is a read-only directory with a fixed set of children.
type StaticNode struct {
	base
	started  time.Time
	children []VirtualNode
}

// NewStaticNode creates a directory at path listing children in order.
func NewStaticNode(path common.Path, started time.Time, children ...VirtualNode) *StaticNode {
	return &StaticNode{
		base:     base{path: path, mode: ModeDirRO},
		started:  started,
		children: children,
	}
}

func (n *StaticNode) Attr(ctx context.Context) (Stat, error) {
	return NewStat(n.mode, DirSize, WithTimes(n.started, n.started, n.started)), nil
}

func (n *StaticNode) Access(ctx context.Context, mask uint32) error {
	return checkAccess(n, mask, false)
}

func (n *StaticNode) List(ctx context.Context) ([]VirtualNode, error) {
	out := make([]VirtualNode, len(n.children))
	copy(out, n.children)
	return out, nil
}

func (n *StaticNode) Read(ctx context.Context, size int, off int64) ([]byte, error) {
	return nil, isDir("read", n)
}

func (n *StaticNode) Write(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, isDir("write", n)
}

func (n *StaticNode) Resolve(ctx context.Context, p common.Path) (VirtualNode, error) {
	return Resolve(ctx, n, p)
}
