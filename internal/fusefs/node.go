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

package fusefs

import (
	"context"
	"path"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"morphdepot/internal/vfs"
)

// node is one inode of the mount. It holds no state of its own: every call
// is forwarded by path to vfs.FS, and the path is taken from the inode
// tree so that renames are followed.
type node struct {
	gofuse.Inode
	fsys *vfs.FS
}

var (
	_ gofuse.NodeLookuper  = (*node)(nil)
	_ gofuse.NodeGetattrer = (*node)(nil)
	_ gofuse.NodeSetattrer = (*node)(nil)
	_ gofuse.NodeAccesser  = (*node)(nil)
	_ gofuse.NodeReaddirer = (*node)(nil)
	_ gofuse.NodeMkdirer   = (*node)(nil)
	_ gofuse.NodeCreater   = (*node)(nil)
	_ gofuse.NodeUnlinker  = (*node)(nil)
	_ gofuse.NodeRmdirer   = (*node)(nil)
	_ gofuse.NodeRenamer   = (*node)(nil)
	_ gofuse.NodeOpener    = (*node)(nil)
	_ gofuse.NodeReader    = (*node)(nil)
	_ gofuse.NodeWriter    = (*node)(nil)
	_ gofuse.NodeFlusher   = (*node)(nil)
	_ gofuse.NodeReleaser  = (*node)(nil)
	_ gofuse.NodeStatfser  = (*node)(nil)
)

// fileHandle carries a vfs handle between open and release.
type fileHandle struct {
	id vfs.HandleID
}

func (n *node) fullPath() string {
	return "/" + n.Path(nil)
}

func (n *node) childPath(name string) string {
	return path.Join(n.fullPath(), name)
}

// newChild builds the inode for a child after a successful lookup, mkdir
// or create.
func (n *node) newChild(ctx context.Context, p string, st vfs.Stat, out *fuse.EntryOut) *gofuse.Inode {
	ino := n.fsys.Inode(p)
	fillAttr(&out.Attr, st, ino)
	child := &node{fsys: n.fsys}
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: direntMode(st), Ino: ino})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (_ *gofuse.Inode, errno syscall.Errno) {
	p := n.childPath(name)
	defer leave("Lookup", p, enter("Lookup", p), &errno)

	st, err := n.fsys.Getattr(ctx, p)
	if err != nil {
		return nil, toErrno("Lookup", p, err)
	}
	return n.newChild(ctx, p, st, out), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) (errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Getattr", p, enter("Getattr", p), &errno)

	st, err := n.fsys.Getattr(ctx, p)
	if err != nil {
		return toErrno("Getattr", p, err)
	}
	fillAttr(&out.Attr, st, n.StableAttr().Ino)
	return 0
}

// Setattr supports size changes only. Mode, owner and time changes are
// accepted and ignored so that tools like cp -p and touch succeed.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) (errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Setattr", p, enter("Setattr", p), &errno)

	if size, ok := in.GetSize(); ok {
		var err error
		if fh, isHandle := f.(*fileHandle); isHandle {
			err = n.fsys.TruncateHandle(ctx, fh.id, int64(size))
		} else {
			err = n.fsys.Truncate(ctx, p, int64(size))
		}
		if err != nil {
			return toErrno("Setattr", p, err)
		}
	}

	st, err := n.fsys.Getattr(ctx, p)
	if err != nil {
		return toErrno("Setattr", p, err)
	}
	fillAttr(&out.Attr, st, n.StableAttr().Ino)
	// a truncated buffer is not stored until release
	if size, ok := in.GetSize(); ok && !st.Mode.IsDir() {
		out.Size = size
	}
	return 0
}

func (n *node) Access(ctx context.Context, mask uint32) (errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Access", p, enter("Access", p), &errno)

	return toErrno("Access", p, n.fsys.Access(ctx, p, mask))
}

func (n *node) Readdir(ctx context.Context) (_ gofuse.DirStream, errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Readdir", p, enter("Readdir", p), &errno)

	entries, err := n.fsys.Readdir(ctx, p)
	if err != nil {
		return nil, toErrno("Readdir", p, err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{
			Name: e.Name,
			Mode: direntMode(e.Stat),
			Ino:  n.fsys.Inode(path.Join(p, e.Name)),
		})
	}
	return gofuse.NewListDirStream(list), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (_ *gofuse.Inode, errno syscall.Errno) {
	p := n.childPath(name)
	defer leave("Mkdir", p, enter("Mkdir", p), &errno)

	if err := n.fsys.Mkdir(ctx, p); err != nil {
		return nil, toErrno("Mkdir", p, err)
	}
	st, err := n.fsys.Getattr(ctx, p)
	if err != nil {
		return nil, toErrno("Mkdir", p, err)
	}
	return n.newChild(ctx, p, st, out), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (_ *gofuse.Inode, _ gofuse.FileHandle, _ uint32, errno syscall.Errno) {
	p := n.childPath(name)
	defer leave("Create", p, enter("Create", p), &errno)

	id, err := n.fsys.Create(ctx, p, int(flags))
	if err != nil {
		return nil, nil, 0, toErrno("Create", p, err)
	}
	st, err := n.fsys.Getattr(ctx, p)
	if err != nil {
		n.fsys.Release(ctx, id)
		return nil, nil, 0, toErrno("Create", p, err)
	}
	return n.newChild(ctx, p, st, out), &fileHandle{id: id}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Unlink(ctx context.Context, name string) (errno syscall.Errno) {
	p := n.childPath(name)
	defer leave("Unlink", p, enter("Unlink", p), &errno)

	return toErrno("Unlink", p, n.fsys.Unlink(ctx, p))
}

func (n *node) Rmdir(ctx context.Context, name string) (errno syscall.Errno) {
	p := n.childPath(name)
	defer leave("Rmdir", p, enter("Rmdir", p), &errno)

	return toErrno("Rmdir", p, n.fsys.Rmdir(ctx, p))
}

// renameNoReplace is RENAME_NOREPLACE; targets are never replaced anyway.
const renameNoReplace = 1

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) (errno syscall.Errno) {
	from := n.childPath(name)
	defer leave("Rename", from, enter("Rename", from), &errno)

	if flags&^renameNoReplace != 0 {
		return syscall.ENOTSUP
	}
	target, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	to := target.childPath(newName)
	return toErrno("Rename", from, n.fsys.Rename(ctx, from, to))
}

// Open hands out direct-io handles: info file sizes change with every
// edit and must not be served from the page cache.
func (n *node) Open(ctx context.Context, flags uint32) (_ gofuse.FileHandle, _ uint32, errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Open", p, enter("Open", p), &errno)

	id, err := n.fsys.Open(ctx, p, int(flags))
	if err != nil {
		return nil, 0, toErrno("Open", p, err)
	}
	return &fileHandle{id: id}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (_ fuse.ReadResult, errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Read", p, enter("Read", p), &errno)

	var (
		data []byte
		err  error
	)
	if fh, ok := f.(*fileHandle); ok {
		data, err = n.fsys.ReadHandle(ctx, fh.id, len(dest), off)
	} else {
		data, err = n.fsys.Read(ctx, p, len(dest), off)
	}
	if err != nil {
		return nil, toErrno("Read", p, err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (_ uint32, errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Write", p, enter("Write", p), &errno)

	var (
		written int
		err     error
	)
	if fh, ok := f.(*fileHandle); ok {
		written, err = n.fsys.WriteHandle(ctx, fh.id, data, off)
	} else {
		written, err = n.fsys.Write(ctx, p, data, off)
	}
	if err != nil {
		return 0, toErrno("Write", p, err)
	}
	return uint32(written), 0
}

func (n *node) Flush(ctx context.Context, f gofuse.FileHandle) (errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Flush", p, enter("Flush", p), &errno)

	fh, ok := f.(*fileHandle)
	if !ok {
		return 0
	}
	return toErrno("Flush", p, n.fsys.Flush(ctx, fh.id))
}

func (n *node) Release(ctx context.Context, f gofuse.FileHandle) (errno syscall.Errno) {
	p := n.fullPath()
	defer leave("Release", p, enter("Release", p), &errno)

	fh, ok := f.(*fileHandle)
	if !ok {
		return 0
	}
	return toErrno("Release", p, n.fsys.Release(ctx, fh.id))
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) (errno syscall.Errno) {
	defer leave("Statfs", "/", enter("Statfs", "/"), &errno)

	st, err := n.fsys.Statfs(ctx)
	if err != nil {
		return toErrno("Statfs", "/", err)
	}
	fillStatfs(out, st)
	return 0
}
