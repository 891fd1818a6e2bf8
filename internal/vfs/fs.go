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

// Package vfs projects the entity graph onto a path namespace and serves
// path-level filesystem calls for the FUSE and NFS adapters.
package vfs

import (
	"context"
	"os"
	"sync"
	"time"

	"morphdepot/internal/common"
	"morphdepot/internal/infofile"
	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
)

// FS serves filesystem calls by resolving every path from a freshly built
// root. Only open-handle state lives between calls.
type FS struct {
	mu      sync.Mutex // guards handle buffers and pendingTrunc
	env     *env
	handles *HandleManager
	inodes  *InodeTable
	ignore  func(name string) bool

	// info files truncated to zero, keyed by backing entity; the next open
	// or write of that entity's document starts empty
	pendingTrunc map[string]bool
}

// Option configures an FS.
type Option func(*FS)

// WithIgnore rejects new files and folders whose name matches.
func WithIgnore(match func(name string) bool) Option {
	return func(fs *FS) {
		fs.ignore = match
	}
}

// WithStartTime sets the timestamps of static folders.
func WithStartTime(t time.Time) Option {
	return func(fs *FS) {
		fs.env.started = t
	}
}

// New creates an FS over an entity store and its content store.
func New(catalog *storage.Store, content *rawdata.Store, opts ...Option) *FS {
	fs := &FS{
		env:          &env{catalog: catalog, content: content, started: time.Now()},
		handles:      NewHandleManager(),
		inodes:       NewInodeTable(),
		ignore:       func(string) bool { return false },
		pendingTrunc: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Root returns a freshly built namespace root.
func (fs *FS) Root() VirtualNode {
	return fs.env.root()
}

// Lookup resolves an absolute path.
func (fs *FS) Lookup(ctx context.Context, path string) (VirtualNode, error) {
	return Resolve(ctx, fs.Root(), common.NewPath(path))
}

func (fs *FS) lookupPath(ctx context.Context, p common.Path) (VirtualNode, error) {
	return Resolve(ctx, fs.Root(), p)
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name string
	Stat Stat
}

// Getattr returns the attributes of path. Files created but not yet
// committed report their buffered size.
func (fs *FS) Getattr(ctx context.Context, path string) (Stat, error) {
	p := common.NewPath(path)
	n, err := fs.lookupPath(ctx, p)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			fs.mu.Lock()
			h, ok := fs.handles.PendingFile(p.String())
			var size int64
			if ok {
				size = int64(len(h.buf))
			}
			fs.mu.Unlock()
			if ok {
				return NewStat(ModeFileRW, size), nil
			}
		}
		return Stat{}, err
	}
	return n.Attr(ctx)
}

// Readdir lists a directory without "." and "..".
func (fs *FS) Readdir(ctx context.Context, path string) ([]DirEntry, error) {
	p := common.NewPath(path)
	n, err := fs.lookupPath(ctx, p)
	if err != nil {
		return nil, err
	}
	if !n.Mode().IsDir() {
		return nil, notDir("readdir", n)
	}
	children, err := n.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(children))
	for _, c := range children {
		st, err := c.Attr(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: c.Name(), Stat: st})
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, h := range fs.handles.PendingIn(p.String()) {
		out = append(out, DirEntry{
			Name: common.NewPath(h.path).Base(),
			Stat: NewStat(ModeFileRW, int64(len(h.buf))),
		})
	}
	return out, nil
}

// Access checks mask against the coarse access policy.
func (fs *FS) Access(ctx context.Context, path string, mask uint32) error {
	n, err := fs.Lookup(ctx, path)
	if err != nil {
		return err
	}
	return n.Access(ctx, mask)
}

// Read reads from path without a handle.
func (fs *FS) Read(ctx context.Context, path string, size int, off int64) ([]byte, error) {
	n, err := fs.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return n.Read(ctx, size, off)
}

// Write splices buf into path and commits immediately.
func (fs *FS) Write(ctx context.Context, path string, buf []byte, off int64) (int, error) {
	p := common.NewPath(path)
	n, err := fs.lookupPath(ctx, p)
	if err != nil {
		return 0, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	c, ok := n.(Committer)
	key, keyed := truncKey(n)
	if !ok || !keyed || !fs.pendingTrunc[key] {
		return n.Write(ctx, buf, off)
	}
	edited, err := infofile.Splice(nil, buf, off, infofile.MaxSize)
	if err != nil {
		return 0, err
	}
	if err := c.Commit(ctx, edited); err != nil {
		return 0, err
	}
	delete(fs.pendingTrunc, key)
	return len(buf), nil
}

// Open opens path. Write opens of info files buffer the document until
// Flush or Release; O_TRUNC, or an earlier truncate to zero, starts from
// an empty buffer.
func (fs *FS) Open(ctx context.Context, path string, flags int) (HandleID, error) {
	p := common.NewPath(path)
	n, err := fs.lookupPath(ctx, p)
	if err != nil {
		return 0, err
	}
	if flags&(os.O_WRONLY|os.O_RDWR) == 0 || n.Mode().IsDir() {
		return fs.handles.Allocate(&openHandle{path: p.String(), flags: flags, kind: handleDirect}), nil
	}

	c, ok := n.(Committer)
	if !ok {
		return 0, readOnly("open", n)
	}
	if err := n.Access(ctx, AccessWrite); err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := &openHandle{path: p.String(), flags: flags, kind: handleInfo}
	key, _ := truncKey(n)
	if flags&os.O_TRUNC != 0 || fs.pendingTrunc[key] {
		h.buf = []byte{}
		h.dirty = true
		delete(fs.pendingTrunc, key)
	} else {
		if h.buf, err = c.Snapshot(ctx); err != nil {
			return 0, err
		}
	}
	return fs.handles.Allocate(h), nil
}

// truncKey returns the pending-truncate key of an info file.
func truncKey(n VirtualNode) (string, bool) {
	f, ok := n.(*EntityInfoFile)
	if !ok {
		return "", false
	}
	return entityKey(f.entity), true
}

func (fs *FS) handle(id HandleID) (*openHandle, error) {
	h, ok := fs.handles.Get(id)
	if !ok {
		return nil, EBADF
	}
	return h, nil
}

// ReadHandle reads through an open handle.
func (fs *FS) ReadHandle(ctx context.Context, id HandleID, size int, off int64) ([]byte, error) {
	h, err := fs.handle(id)
	if err != nil {
		return nil, err
	}
	if h.kind == handleDirect {
		return fs.Read(ctx, h.path, size, off)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := window(h.buf, size, off)
	return append([]byte(nil), out...), nil
}

// WriteHandle writes into a handle's buffer.
func (fs *FS) WriteHandle(ctx context.Context, id HandleID, buf []byte, off int64) (int, error) {
	h, err := fs.handle(id)
	if err != nil {
		return 0, err
	}
	if h.kind == handleDirect {
		return 0, EBADF
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := infofile.Splice(h.buf, buf, off, h.limit())
	if err != nil {
		return 0, err
	}
	h.buf = out
	h.dirty = true
	return len(buf), nil
}

// TruncateHandle resizes a handle's buffer.
func (fs *FS) TruncateHandle(ctx context.Context, id HandleID, size int64) error {
	h, err := fs.handle(id)
	if err != nil {
		return err
	}
	if h.kind == handleDirect {
		return fs.Truncate(ctx, h.path, size)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out, err := infofile.Resize(h.buf, size, h.limit())
	if err != nil {
		return err
	}
	h.buf = out
	h.dirty = true
	return nil
}

// Flush commits a dirty buffer. A failed commit keeps the buffer dirty.
func (fs *FS) Flush(ctx context.Context, id HandleID) error {
	h, err := fs.handle(id)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !h.dirty {
		return nil
	}
	p := common.NewPath(h.path)

	switch h.kind {
	case handleInfo:
		n, err := fs.lookupPath(ctx, p)
		if err != nil {
			return err
		}
		c, ok := n.(Committer)
		if !ok {
			return readOnly("flush", n)
		}
		if err := c.Commit(ctx, h.buf); err != nil {
			return err
		}
	case handleNewFile:
		parent, err := fs.lookupPath(ctx, p.Parent())
		if err != nil {
			return err
		}
		c, ok := parent.(Creator)
		if !ok {
			return common.Errorf("flush", h.path, common.KindUnsupported, "parent does not accept files")
		}
		if err := c.CreateFile(ctx, p.Base(), h.buf); err != nil {
			return err
		}
		// committed: later reads go to the stored file
		h.kind = handleDirect
		h.buf = nil
	}
	h.dirty = false
	return nil
}

// Release flushes and frees a handle. The handle is freed even when the
// flush fails; the error is returned.
func (fs *FS) Release(ctx context.Context, id HandleID) error {
	err := fs.Flush(ctx, id)
	if err == EBADF {
		return err
	}
	fs.handles.Release(id)
	return err
}

// Inode returns the inode number the adapters report for path. Two paths
// never share a number during the life of the FS.
func (fs *FS) Inode(path string) uint64 {
	return fs.inodes.Ino(common.NewPath(path).String())
}

// OpenHandles returns the number of open handles.
func (fs *FS) OpenHandles() int {
	return fs.handles.Count()
}

// DropHandles forgets every open handle after the mount has gone away and
// returns how many there were. Unflushed new files are lost.
func (fs *FS) DropHandles() int {
	return fs.handles.Clear()
}

// Create starts a new regular file. The file is stored when its handle is
// flushed or released.
func (fs *FS) Create(ctx context.Context, path string, flags int) (HandleID, error) {
	const op = "create"
	p := common.NewPath(path)
	name := p.Base()
	if p.IsRoot() || !common.ValidName(name) {
		return 0, common.Errorf(op, path, common.KindFormat, "invalid name")
	}
	if fs.ignore(name) {
		return 0, common.Errorf(op, p.String(), common.KindUnsupported, "ignored name")
	}
	parent, err := fs.lookupPath(ctx, p.Parent())
	if err != nil {
		return 0, err
	}
	c, ok := parent.(Creator)
	if !ok || !c.CanCreate() {
		return 0, common.Errorf(op, p.String(), common.KindUnsupported, "files cannot be created here")
	}
	if reserved(name) {
		return 0, common.Errorf(op, p.String(), common.KindConflict, "reserved name")
	}
	if err := fs.checkFree(ctx, parent, name); err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, pending := fs.handles.PendingFile(p.String()); pending {
		return 0, common.E(op, p.String(), common.KindConflict, nil)
	}
	return fs.handles.Allocate(&openHandle{
		path:  p.String(),
		flags: flags,
		kind:  handleNewFile,
		buf:   []byte{},
		dirty: true,
	}), nil
}

// checkFree fails with Conflict when parent already has a child name.
func (fs *FS) checkFree(ctx context.Context, parent VirtualNode, name string) error {
	_, err := parent.Resolve(ctx, common.PathOf(name))
	switch {
	case err == nil:
		return common.E("exists", parent.Path().Child(name).String(), common.KindConflict, nil)
	case common.IsKind(err, common.KindNotFound):
		return nil
	}
	return err
}

// Mkdir creates the entity of the level below the parent folder.
func (fs *FS) Mkdir(ctx context.Context, path string) error {
	const op = "mkdir"
	p := common.NewPath(path)
	if p.IsRoot() {
		return common.E(op, path, common.KindConflict, nil)
	}
	name := p.Base()
	if fs.ignore(name) {
		return common.Errorf(op, p.String(), common.KindUnsupported, "ignored name")
	}
	parent, err := fs.lookupPath(ctx, p.Parent())
	if err != nil {
		return err
	}
	m, ok := parent.(Mkdirer)
	if !ok {
		return common.Errorf(op, p.String(), common.KindUnsupported, "folders cannot be created here")
	}
	if err := fs.checkFree(ctx, parent, name); err != nil {
		return err
	}
	_, err = m.Mkdir(ctx, name)
	return err
}

// Unlink removes a file.
func (fs *FS) Unlink(ctx context.Context, path string) error {
	n, err := fs.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if n.Mode().IsDir() {
		return isDir("unlink", n)
	}
	r, ok := n.(Remover)
	if !ok {
		return readOnly("unlink", n)
	}
	return r.Remove(ctx)
}

// Rmdir removes a folder's backing entity. Folders with child entities
// fail with Integrity; representation folders cascade.
func (fs *FS) Rmdir(ctx context.Context, path string) error {
	n, err := fs.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !n.Mode().IsDir() {
		return notDir("rmdir", n)
	}
	r, ok := n.(Remover)
	if !ok {
		return common.Errorf("rmdir", n.Path().String(), common.KindUnsupported, "folder cannot be removed")
	}
	if err := r.Remove(ctx); err != nil {
		return err
	}
	if d, ok := n.(*EntityDirectory); ok && d.entity != nil {
		fs.mu.Lock()
		delete(fs.pendingTrunc, entityKey(d.entity))
		fs.mu.Unlock()
	}
	return nil
}

// Rename relabels an item folder and moves it to a folder of the same
// kind. Paths at different levels fail with Format; an existing target
// fails with Conflict.
func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	const op = "rename"
	from, to := common.NewPath(oldPath), common.NewPath(newPath)
	if from.Equal(to) {
		return nil
	}
	if from.IsRoot() || to.IsRoot() {
		return common.E(op, oldPath, common.KindPermissionDenied, nil)
	}
	n, err := fs.lookupPath(ctx, from)
	if err != nil {
		return err
	}
	r, ok := n.(Renamer)
	if !ok {
		return common.Errorf(op, from.String(), common.KindUnsupported, "cannot be renamed")
	}
	if fs.ignore(to.Base()) {
		return common.Errorf(op, to.String(), common.KindUnsupported, "ignored name")
	}

	oldParent, err := fs.lookupPath(ctx, from.Parent())
	if err != nil {
		return err
	}
	newParent, err := fs.lookupPath(ctx, to.Parent())
	if err != nil {
		return err
	}
	op1, ok1 := oldParent.(*EntityDirectory)
	op2, ok2 := newParent.(*EntityDirectory)
	if from.Len() != to.Len() || !ok1 || !ok2 || op1.level != op2.level {
		return common.Errorf(op, to.String(), common.KindFormat, "cannot move across namespace levels")
	}
	if err := fs.checkFree(ctx, newParent, to.Base()); err != nil {
		return err
	}
	return r.Rename(ctx, newParent, to.Base())
}

// Truncate resizes a file by path. Truncating an info file to zero is
// held until the next open or write of that document.
func (fs *FS) Truncate(ctx context.Context, path string, size int64) error {
	p := common.NewPath(path)
	key := p.String()

	fs.mu.Lock()
	if h, ok := fs.handles.PendingFile(key); ok {
		out, err := infofile.Resize(h.buf, size, h.limit())
		if err == nil {
			h.buf = out
		}
		fs.mu.Unlock()
		return err
	}
	fs.mu.Unlock()

	n, err := fs.lookupPath(ctx, p)
	if err != nil {
		return err
	}
	if n.Mode().IsDir() {
		return isDir("truncate", n)
	}
	t, ok := n.(Truncater)
	if !ok {
		return readOnly("truncate", n)
	}
	if tk, ok := truncKey(n); ok && size == 0 {
		fs.mu.Lock()
		fs.pendingTrunc[tk] = true
		fs.mu.Unlock()
		return nil
	}
	return t.Truncate(ctx, size)
}

// Statfs describes the filesystem.
type Statfs struct {
	Bsize   uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint32
}

// Statfs reports stored bytes and node counts. Free space is not tracked
// and reported as zero.
func (fs *FS) Statfs(ctx context.Context) (Statfs, error) {
	const bsize = 4096
	st, err := fs.env.catalog.Stats(ctx)
	if err != nil {
		return Statfs{}, err
	}
	nodes := st.Scientists + st.Experiments + st.TissueSamples + st.Neurons + st.Representations + st.Files
	return Statfs{
		Bsize:   bsize,
		Blocks:  uint64((st.TotalBytes + bsize - 1) / bsize),
		Files:   uint64(nodes),
		NameLen: 255,
	}, nil
}
