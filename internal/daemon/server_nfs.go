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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"morphdepot/internal/common"
	"morphdepot/internal/vfs"
)

// NFSServer wraps the go-nfs server
type NFSServer struct {
	listener net.Listener
	server   *nfs.Server
	cancel   context.CancelFunc
}

// NewNFSServer creates an NFSv3 server for fsys.
func NewNFSServer(fsys *vfs.FS) *NFSServer {
	// go-nfs log level follows ours
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler := nfshelper.NewNullAuthHandler(NewBillyAdapter(ctx, fsys))
	cacheHelper := nfshelper.NewCachingHandler(handler, 65536)

	return &NFSServer{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		cancel: cancel,
	}
}

// Listen binds addr. Port 0 picks a free port; the bound address is
// returned.
func (s *NFSServer) Listen(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Serve blocks serving requests until Shutdown.
func (s *NFSServer) Serve() error {
	if s.listener == nil {
		return errors.New("nfs server is not listening")
	}
	err := s.server.Serve(s.listener)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and cancels in-flight handlers.
func (s *NFSServer) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// BillyAdapter exposes a vfs.FS as a billy filesystem for go-nfs. Calls
// are serialized. Creating raw files is not supported: go-nfs closes a
// created file before the data arrives, which would store it empty.
type BillyAdapter struct {
	mu   sync.Mutex
	ctx  context.Context
	fsys *vfs.FS
}

// NewBillyAdapter creates a billy adapter. ctx bounds every call.
func NewBillyAdapter(ctx context.Context, fsys *vfs.FS) *BillyAdapter {
	return &BillyAdapter{ctx: ctx, fsys: fsys}
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)

// osError turns a vfs error into an *os.PathError carrying the errno, so
// that go-nfs's os.IsNotExist style checks see the right status.
func osError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	errno := vfs.ToErrno(err)
	var dup *vfs.DuplicateError
	switch {
	case errors.As(err, &dup):
		log.Errorf("[NFS] %s %s: catalog integrity problem: %v", op, name, err)
	case errno == syscall.EIO:
		log.Warnf("[NFS] %s %s: %v", op, name, err)
	default:
		log.Debugf("[NFS] %s %s: %v (%v)", op, name, err, errno)
	}
	return &os.PathError{Op: op, Path: name, Err: errno}
}

// guard turns a panic inside an adapter call into EIO. It must be the
// deferred function itself for recover to see the panic.
func guard(op, name string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[NFS] %s %s: panic: %v\n%s", op, name, r, debug.Stack())
		*err = &os.PathError{Op: op, Path: name, Err: syscall.EIO}
	}
}

func (b *BillyAdapter) trace(op, name string) func() {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return func() {}
	}
	start := time.Now()
	log.Debugf("[NFS] %s %s", op, name)
	return func() {
		log.Tracef("[NFS] %s %s done (%s)", op, name, time.Since(start))
	}
}

func clean(name string) string {
	return common.NewPath(name).String()
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (_ billy.File, err error) {
	p := clean(filename)
	defer b.trace("OpenFile", p)()
	defer guard("open", p, &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	if flag&os.O_CREATE != 0 {
		_, err := b.fsys.Getattr(b.ctx, p)
		switch {
		case err == nil && flag&os.O_EXCL != 0:
			return nil, osError("open", p, common.E("open", p, common.KindConflict, nil))
		case common.IsKind(err, common.KindNotFound):
			return nil, osError("open", p, common.Errorf("open", p, common.KindUnsupported,
				"files are added through FUSE or the add-file command"))
		case err != nil:
			return nil, osError("open", p, err)
		}
		flag &^= os.O_CREATE | os.O_EXCL
	}

	id, err := b.fsys.Open(b.ctx, p, flag)
	if err != nil {
		return nil, osError("open", p, err)
	}
	return &BillyFile{adapter: b, id: id, name: p}, nil
}

func (b *BillyAdapter) stat(op, name string) (_ os.FileInfo, err error) {
	p := clean(name)
	defer b.trace(op, p)()
	defer guard(op, p, &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.fsys.Getattr(b.ctx, p)
	if err != nil {
		return nil, osError(op, p, err)
	}
	return newFileInfo(p, b.fsys.Inode(p), st), nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	return b.stat("stat", filename)
}

// Lstat equals Stat: the namespace has no symlinks.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.stat("lstat", filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) (err error) {
	from, to := clean(oldpath), clean(newpath)
	defer b.trace("Rename", from+" -> "+to)()
	defer guard("rename", from, &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	return osError("rename", from, b.fsys.Rename(b.ctx, from, to))
}

// Remove unlinks a file or removes a folder.
func (b *BillyAdapter) Remove(filename string) (err error) {
	p := clean(filename)
	defer b.trace("Remove", p)()
	defer guard("remove", p, &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.fsys.Getattr(b.ctx, p)
	if err != nil {
		return osError("remove", p, err)
	}
	if st.Mode.IsDir() {
		return osError("remove", p, b.fsys.Rmdir(b.ctx, p))
	}
	return osError("remove", p, b.fsys.Unlink(b.ctx, p))
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, &os.PathError{Op: "tempfile", Path: dir, Err: syscall.ENOTSUP}
}

func (b *BillyAdapter) ReadDir(dirname string) (_ []os.FileInfo, err error) {
	p := clean(dirname)
	defer b.trace("ReadDir", p)()
	defer guard("readdir", p, &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.fsys.Readdir(b.ctx, p)
	if err != nil {
		return nil, osError("readdir", p, err)
	}
	result := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		child := path.Join(p, e.Name)
		result = append(result, newFileInfo(child, b.fsys.Inode(child), e.Stat))
	}
	return result, nil
}

// MkdirAll creates every missing folder along filename, one entity per
// level.
func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) (err error) {
	p := common.NewPath(filename)
	defer b.trace("MkdirAll", p.String())()
	defer guard("mkdir", p.String(), &err)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := common.NewPath("/")
	for _, seg := range p.Segments() {
		cur = cur.Child(seg)
		st, err := b.fsys.Getattr(b.ctx, cur.String())
		switch {
		case err == nil:
			if !st.Mode.IsDir() {
				return &os.PathError{Op: "mkdir", Path: cur.String(), Err: syscall.ENOTDIR}
			}
			continue
		case !common.IsKind(err, common.KindNotFound):
			return osError("mkdir", cur.String(), err)
		}
		if err := b.fsys.Mkdir(b.ctx, cur.String()); err != nil {
			return osError("mkdir", cur.String(), err)
		}
	}
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return &os.PathError{Op: "symlink", Path: link, Err: syscall.ENOTSUP}
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return "", &os.PathError{Op: "readlink", Path: link, Err: syscall.EINVAL}
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, &os.PathError{Op: "chroot", Path: path, Err: syscall.ENOTSUP}
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// Mode, owner and times are derived from the catalog. Changes are
// accepted and ignored so that cp -p and touch succeed.
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error         { return nil }
func (b *BillyAdapter) Lchown(name string, uid, gid int) error            { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error             { return nil }
func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is an open vfs handle with a file offset.
type BillyFile struct {
	adapter *BillyAdapter
	id      vfs.HandleID
	name    string
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (_ int, err error) {
	defer guard("write", f.name, &err)
	f.adapter.mu.Lock()
	defer f.adapter.mu.Unlock()

	n, err := f.adapter.fsys.WriteHandle(f.adapter.ctx, f.id, p, f.offset)
	if err != nil {
		return n, osError("write", f.name, err)
	}
	f.offset += int64(n)
	return n, nil
}

func (f *BillyFile) readAt(p []byte, off int64) (_ int, err error) {
	defer guard("read", f.name, &err)
	f.adapter.mu.Lock()
	defer f.adapter.mu.Unlock()

	data, err := f.adapter.fsys.ReadHandle(f.adapter.ctx, f.id, len(p), off)
	if err != nil {
		return 0, osError("read", f.name, err)
	}
	return copy(p, data), nil
}

func (f *BillyFile) Read(p []byte) (int, error) {
	n, err := f.readAt(p, f.offset)
	if err != nil {
		return 0, err
	}
	f.offset += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *BillyFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.readAt(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		f.adapter.mu.Lock()
		st, err := f.adapter.fsys.Getattr(f.adapter.ctx, f.name)
		f.adapter.mu.Unlock()
		if err != nil {
			return 0, osError("seek", f.name, err)
		}
		f.offset = st.Size + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: syscall.EINVAL}
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: syscall.EINVAL}
	}
	return f.offset, nil
}

// Close releases the handle, committing buffered info file edits.
func (f *BillyFile) Close() (err error) {
	defer guard("close", f.name, &err)
	f.adapter.mu.Lock()
	defer f.adapter.mu.Unlock()

	return osError("close", f.name, f.adapter.fsys.Release(f.adapter.ctx, f.id))
}

func (f *BillyFile) Lock() error   { return nil }
func (f *BillyFile) Unlock() error { return nil }

// Truncate to zero is applied by path: NFS sends it as a SETATTR of its
// own, before the WRITE that carries the new document.
func (f *BillyFile) Truncate(size int64) (err error) {
	defer guard("truncate", f.name, &err)
	f.adapter.mu.Lock()
	defer f.adapter.mu.Unlock()

	if size == 0 {
		err = f.adapter.fsys.Truncate(f.adapter.ctx, f.name, 0)
	} else {
		err = f.adapter.fsys.TruncateHandle(f.adapter.ctx, f.id, size)
	}
	return osError("truncate", f.name, err)
}

// BillyFileInfo is an os.FileInfo over a vfs.Stat.
type BillyFileInfo struct {
	name string
	ino  uint64
	st   vfs.Stat
}

func newFileInfo(p string, ino uint64, st vfs.Stat) *BillyFileInfo {
	return &BillyFileInfo{name: path.Base(p), ino: ino, st: st}
}

func (fi *BillyFileInfo) Name() string       { return fi.name }
func (fi *BillyFileInfo) Size() int64        { return fi.st.Size }
func (fi *BillyFileInfo) ModTime() time.Time { return fi.st.Mtime }
func (fi *BillyFileInfo) IsDir() bool        { return fi.st.Mode.IsDir() }

func (fi *BillyFileInfo) Mode() os.FileMode {
	mode := os.FileMode(fi.st.Mode.Perm())
	switch {
	case fi.st.Mode.IsDir():
		mode |= os.ModeDir
	case fi.st.Mode.IsSymlink():
		mode |= os.ModeSymlink
	}
	return mode
}

// Sys returns the go-nfs file info; go-nfs reads the file id and owner
// only from this type.
func (fi *BillyFileInfo) Sys() any {
	return &nfsfile.FileInfo{
		Nlink:  max(fi.st.Nlink, 1),
		UID:    fi.st.UID,
		GID:    fi.st.GID,
		Fileid: fi.ino,
	}
}

// mountCommand returns the command that mounts an NFS export served at
// addr on mountpoint.
func mountCommand(goos string, addr *net.TCPAddr, mountpoint string) []string {
	host := addr.IP.String()
	if addr.IP == nil || addr.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	opts := []string{
		fmt.Sprintf("port=%d", addr.Port),
		fmt.Sprintf("mountport=%d", addr.Port),
		"tcp", "nolock", "vers=3", "soft", "timeo=50", "retrans=3",
	}
	if goos == "darwin" {
		opts[3] = "nolocks"
		opts = append(opts, "noac", "nobrowse")
		return []string{"mount_nfs", "-o", strings.Join(opts, ","), host + ":/", mountpoint}
	}
	opts = append(opts, "noac")
	return []string{"mount", "-t", "nfs", "-o", strings.Join(opts, ","), host + ":/", mountpoint}
}
