package fusefs

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"morphdepot/internal/common"
	"morphdepot/internal/vfs"
)

func TestFillAttr(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1700000000, 500)
	st := vfs.NewStat(vfs.ModeFileRO, 1025, vfs.WithTimes(mtime, mtime, mtime), vfs.WithOwner(501, 20))

	var out fuse.Attr
	fillAttr(&out, st, 42)
	assert.Equal(t, uint64(42), out.Ino)
	assert.Equal(t, uint32(syscall.S_IFREG|0444), out.Mode)
	assert.Equal(t, uint64(1025), out.Size)
	assert.Equal(t, uint64(3), out.Blocks)
	assert.Equal(t, uint32(blockSize), out.Blksize)
	assert.Equal(t, uint32(1), out.Nlink)
	assert.Equal(t, uint32(501), out.Uid)
	assert.Equal(t, uint32(20), out.Gid)
	assert.Equal(t, uint64(1700000000), out.Mtime)
	assert.Equal(t, uint32(500), out.Mtimensec)

	var dir fuse.Attr
	fillAttr(&dir, vfs.NewStat(vfs.ModeDirRW, 0), 7)
	assert.Equal(t, uint32(syscall.S_IFDIR|0755), dir.Mode)
	assert.Equal(t, uint64(vfs.DirSize), dir.Size)
	assert.Equal(t, uint32(syscall.S_IFDIR), direntMode(vfs.NewStat(vfs.ModeDirRO, 0)))
}

func TestFillStatfs(t *testing.T) {
	t.Parallel()

	var out fuse.StatfsOut
	fillStatfs(&out, vfs.Statfs{Bsize: 4096, Blocks: 10, Files: 3, NameLen: 255})
	assert.Equal(t, uint32(4096), out.Bsize)
	assert.Equal(t, uint32(4096), out.Frsize)
	assert.Equal(t, uint64(10), out.Blocks)
	assert.Equal(t, uint64(0), out.Bfree)
	assert.Equal(t, uint64(3), out.Files)
	assert.Equal(t, uint32(255), out.NameLen)
}

// The logging tests swap the global logger hook and do not run in parallel.

func TestToErrnoLogging(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	assert.Equal(t, syscall.Errno(0), toErrno("Lookup", "/a", nil))
	assert.Empty(t, hook.AllEntries())

	errno := toErrno("Lookup", "/scientists/x", &vfs.DuplicateError{Path: common.NewPath("/scientists/x")})
	assert.Equal(t, syscall.ENOENT, errno)
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
	}

	hook.Reset()
	assert.Equal(t, syscall.EIO, toErrno("Read", "/a", errors.New("disk on fire")))
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	}

	hook.Reset()
	err := common.E("mkdir", "/a", common.KindConflict, nil)
	assert.Equal(t, syscall.EEXIST, toErrno("Mkdir", "/a", err))
	for _, e := range hook.AllEntries() {
		assert.Equal(t, log.DebugLevel, e.Level)
	}
}

func TestLeaveRecoversPanic(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	op := func(ctx context.Context) (errno syscall.Errno) {
		defer leave("Write", "/x", enter("Write", "/x"), &errno)
		panic("boom")
	}
	assert.Equal(t, syscall.EIO, op(context.Background()))
	if assert.NotNil(t, hook.LastEntry()) {
		assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
		assert.Contains(t, hook.LastEntry().Message, "panic: boom")
	}

	ok := func() (errno syscall.Errno) {
		defer leave("Getattr", "/", enter("Getattr", "/"), &errno)
		return 0
	}
	assert.Equal(t, syscall.Errno(0), ok())
}
