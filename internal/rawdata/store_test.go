package rawdata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphdepot/internal/common"
	"morphdepot/internal/storage"
)

// testRawStore returns an in-memory content store backed by a temporary
// catalog holding one scientist, experiment and tissue sample.
func testRawStore(t *testing.T) (*Store, *storage.TissueSample) {
	t.Helper()
	ctx := context.Background()

	catalog, err := storage.Create(filepath.Join(t.TempDir(), "catalog.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	sci := storage.NewScientist("A. Turing")
	require.NoError(t, catalog.Save(ctx, sci))
	exp := &storage.Experiment{Identity: storage.Identity{Label: "Exp01"}, ScientistID: sci.ID}
	require.NoError(t, catalog.Save(ctx, exp))
	ts := &storage.TissueSample{Identity: storage.Identity{Label: "T1"}, ExperimentID: exp.ID}
	require.NoError(t, catalog.Save(ctx, ts))

	return New(memfs.New(), catalog), ts
}

func sha1Hex(t *testing.T, content string) string {
	t.Helper()
	sum, _, err := FileChecksum(strings.NewReader(content))
	require.NoError(t, err)
	return sum
}

func TestChecksums(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EmptyChecksum, sha1Hex(t, ""))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sha1Hex(t, "abc"))
	assert.Equal(t, EmptyChecksum, ContainerChecksum(nil))

	a := &storage.File{FileName: "a.swc", Checksum: sha1Hex(t, "A")}
	b := &storage.File{FileName: "b.swc", Checksum: sha1Hex(t, "B")}
	want := sha1Hex(t, a.Checksum+b.Checksum)

	assert.Equal(t, want, ContainerChecksum([]*storage.File{a, b}))
	assert.Equal(t, want, ContainerChecksum([]*storage.File{b, a}), "order of upload must not matter")
}

func TestCreateContainer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ts := testRawStore(t)

	nr, err := s.CreateContainer(ctx, ts.ID, "R1")
	require.NoError(t, err)
	assert.Equal(t, EmptyChecksum, nr.Checksum)

	fi, err := s.fs.Stat(nr.ID)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	_, err = s.CreateContainer(ctx, ts.ID, "R1")
	assert.Equal(t, common.KindConflict, common.KindOf(err))
	entries, err := s.fs.ReadDir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed create must not leave a folder behind")
}

func TestAddFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("records stat values and checksums", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)

		mtime := time.Unix(1700000000, 0)
		f, err := s.AddFile(ctx, nr.ID, "cell.swc", strings.NewReader("abc"), FileTimes{Mtime: mtime})
		require.NoError(t, err)
		assert.Equal(t, int64(3), f.StSize)
		assert.Equal(t, mtime.Unix(), f.StMtime)
		assert.Equal(t, int64(DefaultBlockSize), f.StBlksize)
		assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", f.Checksum)

		got, err := s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
		require.NoError(t, err)
		assert.Equal(t, ContainerChecksum([]*storage.File{f}), got.(*storage.NeuroRepresentation).Checksum)

		data, err := s.ReadAt(f, 100, 1)
		require.NoError(t, err)
		assert.Equal(t, "bc", string(data))

		data, err = s.ReadAt(f, 10, 3)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("upload order does not change container checksum", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		r1, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		r2, err := s.CreateContainer(ctx, ts.ID, "R2")
		require.NoError(t, err)

		_, err = s.AddFile(ctx, r1.ID, "a", strings.NewReader("1"), FileTimes{})
		require.NoError(t, err)
		_, err = s.AddFile(ctx, r1.ID, "b", strings.NewReader("2"), FileTimes{})
		require.NoError(t, err)
		_, err = s.AddFile(ctx, r2.ID, "b", strings.NewReader("2"), FileTimes{})
		require.NoError(t, err)
		_, err = s.AddFile(ctx, r2.ID, "a", strings.NewReader("1"), FileTimes{})
		require.NoError(t, err)

		sum1, err := s.RecomputeChecksum(ctx, r1.ID)
		require.NoError(t, err)
		sum2, err := s.RecomputeChecksum(ctx, r2.ID)
		require.NoError(t, err)
		assert.Equal(t, sum1, sum2)
		assert.NotEqual(t, EmptyChecksum, sum1)
	})

	t.Run("duplicate name is a conflict and leaves state unchanged", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "cell.swc", strings.NewReader("first"), FileTimes{})
		require.NoError(t, err)
		before, err := s.RecomputeChecksum(ctx, nr.ID)
		require.NoError(t, err)

		_, err = s.AddFile(ctx, nr.ID, "cell.swc", strings.NewReader("second"), FileTimes{})
		assert.Equal(t, common.KindConflict, common.KindOf(err))

		after, err := s.RecomputeChecksum(ctx, nr.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		entries, err := s.fs.ReadDir(nr.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		content, err := util.ReadFile(s.fs, s.fs.Join(nr.ID, "cell.swc"))
		require.NoError(t, err)
		assert.Equal(t, "first", string(content))
	})

	t.Run("failed copy leaves the container unchanged", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "cell.swc", strings.NewReader("first"), FileTimes{})
		require.NoError(t, err)
		before, err := s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
		require.NoError(t, err)

		src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("device vanished")))
		_, err = s.AddFile(ctx, nr.ID, "scan.tif", src, FileTimes{})
		require.Error(t, err)
		assert.Equal(t, common.KindIO, common.KindOf(err))

		after, err := s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
		require.NoError(t, err)
		assert.Equal(t, before.(*storage.NeuroRepresentation).Checksum, after.(*storage.NeuroRepresentation).Checksum)

		files, err := s.Files(ctx, nr.ID)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "cell.swc", files[0].FileName)

		entries, err := s.fs.ReadDir(nr.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1, "no partial copy is left behind")
		assert.Equal(t, "cell.swc", entries[0].Name())
	})

	t.Run("invalid name and unknown container", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)

		for _, name := range []string{"", "..", "a/b", ".incoming-x"} {
			_, err = s.AddFile(ctx, nr.ID, name, strings.NewReader("x"), FileTimes{})
			assert.Equal(t, common.KindFormat, common.KindOf(err), "name %q", name)
		}
		_, err = s.AddFile(ctx, nr.ID, ReservedName, strings.NewReader("x"), FileTimes{})
		assert.Equal(t, common.KindConflict, common.KindOf(err))
		_, err = s.AddFile(ctx, "missing", "a", strings.NewReader("x"), FileTimes{})
		assert.Equal(t, common.KindNotFound, common.KindOf(err))
	})
}

func TestAddFileFromPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ts := testRawStore(t)
	nr, err := s.CreateContainer(ctx, ts.ID, "R1")
	require.NoError(t, err)

	dir := t.TempDir()
	host := filepath.Join(dir, "scan.tif")
	require.NoError(t, os.WriteFile(host, bytes.Repeat([]byte{7}, 5000), 0644))

	f, err := s.AddFileFromPath(ctx, nr.ID, host)
	require.NoError(t, err)
	assert.Equal(t, "scan.tif", f.FileName)
	assert.Equal(t, int64(5000), f.StSize)

	_, err = s.AddFileFromPath(ctx, nr.ID, dir)
	assert.Equal(t, common.KindFormat, common.KindOf(err))

	_, err = s.AddFileFromPath(ctx, nr.ID, filepath.Join(dir, "missing"))
	assert.Equal(t, common.KindIO, common.KindOf(err))
}

func TestImportDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.swc":     "BB",
		"a.swc":     "A",
		".DS_Store": "junk",
		"notes.tmp": "skip me",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	t.Run("imports regular files", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)

		cfg := DefaultImportConfig()
		cfg.Filter = func(name string) bool { return !strings.HasSuffix(name, ".tmp") }
		res, err := s.ImportDir(ctx, nr.ID, dir, cfg)
		require.NoError(t, err)
		assert.Equal(t, 2, res.TotalFiles)
		assert.Equal(t, 2, res.CopiedFiles)
		assert.Equal(t, int64(3), res.CopiedBytes)
		assert.Equal(t, []string{"nested: not a regular file"}, res.SkippedFiles)

		files, err := s.Files(ctx, nr.ID)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "a.swc", files[0].FileName)
		assert.Equal(t, "b.swc", files[1].FileName)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "b.swc", strings.NewReader("old"), FileTimes{})
		require.NoError(t, err)

		res, err := s.ImportDir(ctx, nr.ID, dir, DefaultImportConfig())
		assert.Equal(t, common.KindConflict, common.KindOf(err))
		assert.Equal(t, 1, res.CopiedFiles)
	})

	t.Run("partial import records failures", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "b.swc", strings.NewReader("old"), FileTimes{})
		require.NoError(t, err)

		cfg := DefaultImportConfig()
		cfg.AllowPartial = true
		res, err := s.ImportDir(ctx, nr.ID, dir, cfg)
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalFiles)
		assert.Equal(t, 2, res.CopiedFiles)
		assert.Len(t, res.SkippedFiles, 2)
	})
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ts := testRawStore(t)
	nr, err := s.CreateContainer(ctx, ts.ID, "R1")
	require.NoError(t, err)

	a, err := s.AddFile(ctx, nr.ID, "a", strings.NewReader("1"), FileTimes{})
	require.NoError(t, err)
	b, err := s.AddFile(ctx, nr.ID, "b", strings.NewReader("2"), FileTimes{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, a))

	got, err := s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
	require.NoError(t, err)
	assert.Equal(t, ContainerChecksum([]*storage.File{b}), got.(*storage.NeuroRepresentation).Checksum)

	_, err = s.fs.Stat(s.fs.Join(nr.ID, "a"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = s.RemoveFolder(nr.ID)
	assert.Equal(t, common.KindIntegrity, common.KindOf(err), "folder with files must not be removed")

	require.NoError(t, s.DeleteFile(ctx, b))
	got, err = s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
	require.NoError(t, err)
	assert.Equal(t, EmptyChecksum, got.(*storage.NeuroRepresentation).Checksum)
}

func TestDeleteContainer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ts := testRawStore(t)
	nr, err := s.CreateContainer(ctx, ts.ID, "R1")
	require.NoError(t, err)
	_, err = s.AddFile(ctx, nr.ID, "a", strings.NewReader("1"), FileTimes{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteContainer(ctx, nr.ID))

	_, err = s.catalog.FindByID(ctx, storage.KindRepresentation, nr.ID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
	_, err = s.fs.Stat(nr.ID)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("clean store", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "a", strings.NewReader("1"), FileTimes{})
		require.NoError(t, err)

		report, err := s.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, report.OK(), "%v", report.Problems)
		assert.Equal(t, 1, report.Containers)
		assert.Equal(t, 1, report.Files)
		assert.NoError(t, report.Err())
	})

	t.Run("detects tampering", func(t *testing.T) {
		t.Parallel()
		s, ts := testRawStore(t)
		nr, err := s.CreateContainer(ctx, ts.ID, "R1")
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "a", strings.NewReader("1"), FileTimes{})
		require.NoError(t, err)
		_, err = s.AddFile(ctx, nr.ID, "b", strings.NewReader("2"), FileTimes{})
		require.NoError(t, err)

		require.NoError(t, util.WriteFile(s.fs, s.fs.Join(nr.ID, "a"), []byte("9"), 0644))
		require.NoError(t, s.fs.Remove(s.fs.Join(nr.ID, "b")))
		require.NoError(t, util.WriteFile(s.fs, s.fs.Join(nr.ID, "stray"), []byte("x"), 0644))

		report, err := s.Verify(ctx)
		require.NoError(t, err)

		kinds := map[ProblemKind]bool{}
		for _, p := range report.Problems {
			kinds[p.Kind] = true
		}
		assert.True(t, kinds[ProblemFileChecksum])
		assert.True(t, kinds[ProblemMissingBlob])
		assert.True(t, kinds[ProblemOrphanBlob])
		assert.Equal(t, common.KindIntegrity, common.KindOf(report.Err()))
	})
}
