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
	"hash/fnv"
	"os"
	"sync"
	"time"
)

// DirSize is the nominal size reported for directories.
const DirSize = 4096

// Stat is a metadata snapshot of a node.
type Stat struct {
	Mode  Mode
	Size  int64
	Nlink uint32
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// StatOption customizes NewStat.
type StatOption func(*Stat)

// WithTimes sets access, modification and change time.
func WithTimes(atime, mtime, ctime time.Time) StatOption {
	return func(s *Stat) {
		s.Atime, s.Mtime, s.Ctime = atime, mtime, ctime
	}
}

// WithOwner overrides the process uid/gid.
func WithOwner(uid, gid uint32) StatOption {
	return func(s *Stat) {
		s.UID, s.GID = uid, gid
	}
}

// WithNlink sets the link count.
func WithNlink(n uint32) StatOption {
	return func(s *Stat) {
		s.Nlink = n
	}
}

// NewStat builds a Stat owned by the current process. Directories always
// report DirSize. Zero timestamps default to now.
func NewStat(mode Mode, size int64, opts ...StatOption) Stat {
	st := Stat{
		Mode:  mode,
		Size:  size,
		Nlink: 1,
		UID:   uint32(os.Getuid()),
		GID:   uint32(os.Getgid()),
	}
	for _, opt := range opts {
		opt(&st)
	}
	if mode.IsDir() {
		st.Size = DirSize
	}
	now := time.Now()
	if st.Atime.IsZero() {
		st.Atime = now
	}
	if st.Mtime.IsZero() {
		st.Mtime = now
	}
	if st.Ctime.IsZero() {
		st.Ctime = now
	}
	return st
}

// StatFromTimes builds a Stat from an entity's creation and modification
// time; atime equals mtime.
func StatFromTimes(mode Mode, size int64, ctime, mtime time.Time) Stat {
	return NewStat(mode, size, WithTimes(mtime, mtime, ctime))
}

// InodeOf derives a stable inode number from an absolute path. The number
// changes when the node is renamed. Zero and the all-ones value are
// reserved by FUSE and 1 belongs to the root.
func InodeOf(path string) uint64 {
	if path == "/" {
		return 1
	}
	h := fnv.New64a()
	h.Write([]byte(path))
	ino := h.Sum64()
	if ino <= 1 || ino == ^uint64(0) {
		ino = 2
	}
	return ino
}

// InodeTable remembers the inode number handed out for each path. A path
// gets InodeOf(path) unless another path already holds that number; the
// next free number is used then. Numbers are never reused while the table
// lives.
type InodeTable struct {
	mu     sync.Mutex
	hash   func(path string) uint64
	byPath map[string]uint64
	byIno  map[uint64]string
}

// NewInodeTable returns an empty table numbering paths with InodeOf.
func NewInodeTable() *InodeTable {
	return newInodeTable(InodeOf)
}

func newInodeTable(hash func(string) uint64) *InodeTable {
	return &InodeTable{
		hash:   hash,
		byPath: make(map[string]uint64),
		byIno:  make(map[uint64]string),
	}
}

// Ino returns the inode number of path.
func (t *InodeTable) Ino(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.byPath[path]; ok {
		return ino
	}
	ino := t.hash(path)
	for {
		if _, taken := t.byIno[ino]; !taken {
			break
		}
		ino++
		if ino <= 1 || ino == ^uint64(0) {
			ino = 2
		}
	}
	t.byPath[path] = ino
	t.byIno[ino] = path
	return ino
}
