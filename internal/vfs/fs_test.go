package vfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"morphdepot/internal/infofile"
	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
)

// testFS creates an FS over a temporary catalog and an in-memory content store.
func testFS(t *testing.T, opts ...Option) *FS {
	t.Helper()
	fs, _ := testFSWithContent(t, opts...)
	return fs
}

// testFSWithContent is testFS that also returns the content folders' filesystem.
func testFSWithContent(t *testing.T, opts ...Option) (*FS, billy.Filesystem) {
	t.Helper()
	catalog, err := storage.Create(filepath.Join(t.TempDir(), "catalog.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	content := memfs.New()
	return New(catalog, rawdata.New(content, catalog), opts...), content
}

func mkdirAll(t *testing.T, fs *FS, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, fs.Mkdir(context.Background(), p), p)
	}
}

func names(entries []DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func readAll(t *testing.T, fs *FS, path string) string {
	t.Helper()
	data, err := fs.Read(context.Background(), path, 1<<20, 0)
	require.NoError(t, err, path)
	return string(data)
}

func infoMap(t *testing.T, fs *FS, path string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(readAll(t, fs, path)), &m))
	return m
}

// writeFile creates path, writes content and releases the handle.
func writeFile(t *testing.T, fs *FS, path, content string) {
	t.Helper()
	ctx := context.Background()
	h, err := fs.Create(ctx, path, os.O_WRONLY)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, h, []byte(content), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Release(ctx, h))
}

// replaceInfo rewrites an info file the way an editor does: open with
// O_TRUNC, write, release.
func replaceInfo(fs *FS, path, content string) error {
	ctx := context.Background()
	h, err := fs.Open(ctx, path, os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := fs.WriteHandle(ctx, h, []byte(content), 0); err != nil {
		return err
	}
	return fs.Release(ctx, h)
}

func TestRootLayout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)

	entries, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scientists", "experiments", "options"}, names(entries))

	entries, err = fs.Readdir(ctx, "/options")
	require.NoError(t, err)
	assert.Equal(t, []string{"arborization_areas", "axonal_tracts", "cell_body_regions", "neuron_categories"}, names(entries))

	st, err := fs.Getattr(ctx, "/")
	require.NoError(t, err)
	assert.True(t, st.Mode.IsDir())
	assert.Equal(t, int64(DirSize), st.Size)
}

func TestResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)

	const nScientists, nExperiments = 3, 4
	for i := 0; i < nScientists; i++ {
		sci := fmt.Sprintf("/scientists/S%d", i)
		mkdirAll(t, fs, sci)
		for j := 0; j < nExperiments; j++ {
			mkdirAll(t, fs, fmt.Sprintf("%s/S%d-E%d", sci, i, j))
		}
	}

	for i := 0; i < nScientists; i++ {
		for j := 0; j < nExperiments; j++ {
			n, err := fs.Lookup(ctx, fmt.Sprintf("/scientists/S%d/S%d-E%d", i, i, j))
			require.NoError(t, err)
			d := n.(*EntityDirectory)
			assert.Equal(t, fmt.Sprintf("S%d-E%d", i, j), d.Entity().EntityLabel())
		}
	}

	entries, err := fs.Readdir(ctx, "/experiments")
	require.NoError(t, err)
	assert.Len(t, entries, nScientists*nExperiments)

	entries, err = fs.Readdir(ctx, "/scientists/S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"info.yaml", "S1-E0", "S1-E1", "S1-E2", "S1-E3"}, names(entries))

	mkdirAll(t, fs, "/scientists/S0/S0-E0/T1", "/scientists/S0/S0-E0/T1/R1")
	for _, p := range []string{
		"/nope",
		"/scientists/nope",
		"/scientists/S0/nope",
		"/scientists/S0/S0-E0/nope",
		"/scientists/S0/S0-E0/T1/nope",
		"/scientists/S0/S0-E0/T1/neurons/nope",
		"/scientists/S0/S0-E0/T1/R1/nope",
		"/scientists/S0/info.yaml/below-a-file",
		"/experiments/S1-E0/nope",
		"/options/axonal_tracts/nope",
	} {
		_, err := fs.Getattr(ctx, p)
		assert.Equal(t, syscall.ENOENT, ToErrno(err), p)
	}
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs, content := testFSWithContent(t)

	const (
		sci  = "/scientists/A. Turing"
		exp  = sci + "/Exp01"
		ts   = exp + "/T1"
		repr = ts + "/R1"
		scan = repr + "/scan.png"
	)
	mkdirAll(t, fs, sci, exp, ts, repr)

	info := infoMap(t, fs, sci+"/info.yaml")
	assert.Equal(t, "A.", info["first_name"])
	assert.Equal(t, "Turing", info["last_name"])

	entries, err := fs.Readdir(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, []string{"info.yaml", "neurons", "R1"}, names(entries))

	info = infoMap(t, fs, repr+"/info.yaml")
	assert.Equal(t, rawdata.EmptyChecksum, info["checksum"])

	// upload
	h, err := fs.Create(ctx, scan, os.O_WRONLY)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, h, []byte("PNG"), 0)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, h, []byte("DATA"), 3)
	require.NoError(t, err)

	st, err := fs.Getattr(ctx, scan)
	require.NoError(t, err, "uncommitted file is visible")
	assert.Equal(t, int64(7), st.Size)

	require.NoError(t, fs.Release(ctx, h))
	assert.Equal(t, 0, fs.OpenHandles())

	st, err = fs.Getattr(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Size)
	assert.Equal(t, ModeFileRO, st.Mode)
	assert.Equal(t, "PNGDATA", readAll(t, fs, scan))
	assert.Equal(t, "PNGDATA", readAll(t, fs, "/experiments/Exp01/T1/R1/scan.png"))

	want := rawdata.ContainerChecksum([]*storage.File{{FileName: "scan.png", Checksum: sha1Of("PNGDATA")}})
	assert.Equal(t, want, infoMap(t, fs, repr+"/info.yaml")["checksum"])

	// raw files are read-only
	_, err = fs.Write(ctx, scan, []byte("x"), 0)
	assert.Equal(t, syscall.ENOTSUP, ToErrno(err))
	_, err = fs.Open(ctx, scan, os.O_RDWR)
	assert.Equal(t, syscall.EACCES, ToErrno(err))
	_, err = fs.Create(ctx, scan, os.O_WRONLY)
	assert.Equal(t, syscall.EEXIST, ToErrno(err))

	// link a neuron through the representation's info file
	mkdirAll(t, fs, ts+"/neurons/N1")
	doc := readAll(t, fs, repr+"/info.yaml")
	doc = strings.Replace(doc, "neurons: []", "neurons: [N1]", 1)
	doc = strings.Replace(doc, `comment: ""`, "comment: first scan", 1)
	require.NoError(t, replaceInfo(fs, repr+"/info.yaml", doc))

	info = infoMap(t, fs, repr+"/info.yaml")
	assert.Equal(t, []any{"N1"}, info["neurons"])
	assert.Equal(t, "first scan", info["comment"])

	// non-empty folders refuse removal
	assert.Equal(t, syscall.ENOTEMPTY, ToErrno(fs.Rmdir(ctx, exp)))

	// a second file comes and goes; the checksum follows
	writeFile(t, fs, repr+"/notes.swc", "SWC")
	assert.NotEqual(t, want, infoMap(t, fs, repr+"/info.yaml")["checksum"])
	require.NoError(t, fs.Unlink(ctx, repr+"/notes.swc"))
	assert.Equal(t, want, infoMap(t, fs, repr+"/info.yaml")["checksum"])

	// removing the container takes its files and folder with it
	reprID, ok := infoMap(t, fs, repr+"/info.yaml")["id"].(string)
	require.True(t, ok)
	_, err = content.Stat(reprID + "/scan.png")
	require.NoError(t, err)
	require.NoError(t, fs.Rmdir(ctx, repr))
	_, err = content.Stat(reprID + "/scan.png")
	assert.True(t, os.IsNotExist(err), "blob removed, got %v", err)
	_, err = content.Stat(reprID)
	assert.True(t, os.IsNotExist(err), "folder removed, got %v", err)
	_, err = fs.Getattr(ctx, scan)
	assert.Equal(t, syscall.ENOENT, ToErrno(err))
	require.NoError(t, fs.Rmdir(ctx, ts+"/neurons/N1"))
	require.NoError(t, fs.Rmdir(ctx, ts))
	require.NoError(t, fs.Rmdir(ctx, exp))
	require.NoError(t, fs.Rmdir(ctx, sci))

	entries, err = fs.Readdir(ctx, "/scientists")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func sha1Of(s string) string {
	sum, _, _ := rawdata.FileChecksum(strings.NewReader(s))
	return sum
}

func TestMkdir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t, WithIgnore(func(name string) bool { return name == ".DS_Store" }))
	mkdirAll(t, fs, "/scientists/S", "/scientists/S2", "/scientists/S/E", "/scientists/S/E/T")

	tests := []struct {
		name string
		path string
		want syscall.Errno
	}{
		{"under flat experiments", "/experiments/E2", syscall.ENOTSUP},
		{"existing", "/scientists/S", syscall.EEXIST},
		{"reserved info", "/scientists/S/info.yaml", syscall.EEXIST},
		{"reserved neurons", "/scientists/S/E/T/neurons", syscall.EEXIST},
		{"static root", "/new", syscall.ENOTSUP},
		{"ignored", "/scientists/.DS_Store", syscall.ENOTSUP},
		{"missing parent", "/scientists/nobody/E", syscall.ENOENT},
		{"experiment label taken by another scientist", "/scientists/S2/E", syscall.EEXIST},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToErrno(fs.Mkdir(ctx, tt.path)))
		})
	}

	t.Run("dimension value", func(t *testing.T) {
		require.NoError(t, fs.Mkdir(ctx, "/options/axonal_tracts/mALT"))
		info := infoMap(t, fs, "/options/axonal_tracts/mALT/info.yaml")
		assert.Equal(t, "mALT", info["name"])
	})
}

func TestRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	mkdirAll(t, fs,
		"/scientists/S1", "/scientists/S2",
		"/scientists/S1/E1", "/scientists/S1/E1/T1", "/scientists/S1/E1/T1/R1",
		"/scientists/S1/E1/T1/neurons/N1",
		"/options/axonal_tracts/mALT",
	)

	t.Run("relabel in place", func(t *testing.T) {
		require.NoError(t, fs.Rename(ctx, "/scientists/S1/E1", "/scientists/S1/E2"))
		_, err := fs.Getattr(ctx, "/scientists/S1/E2/T1/R1")
		require.NoError(t, err)
		_, err = fs.Getattr(ctx, "/scientists/S1/E1")
		assert.Equal(t, syscall.ENOENT, ToErrno(err))
	})

	t.Run("move to another scientist", func(t *testing.T) {
		require.NoError(t, fs.Rename(ctx, "/scientists/S1/E2", "/scientists/S2/E2"))
		_, err := fs.Getattr(ctx, "/scientists/S2/E2/T1")
		require.NoError(t, err)
		entries, err := fs.Readdir(ctx, "/scientists/S1")
		require.NoError(t, err)
		assert.Equal(t, []string{"info.yaml"}, names(entries))
	})

	t.Run("relabel in flat view keeps scientist", func(t *testing.T) {
		require.NoError(t, fs.Rename(ctx, "/experiments/E2", "/experiments/E3"))
		_, err := fs.Getattr(ctx, "/scientists/S2/E3")
		require.NoError(t, err)
	})

	errs := []struct {
		name     string
		from, to string
		want     syscall.Errno
	}{
		{"across levels", "/scientists/S2/E3", "/experiments/E4", syscall.EINVAL},
		{"to a different kind of parent", "/scientists/S2/E3/T1", "/scientists/S1/T1", syscall.EINVAL},
		{"existing target", "/scientists/S1", "/scientists/S2", syscall.EEXIST},
		{"info file", "/scientists/S2/E3/T1/R1/info.yaml", "/scientists/S2/E3/T1/R1/x.yaml", syscall.ENOTSUP},
		{"dimension value", "/options/axonal_tracts/mALT", "/options/axonal_tracts/mALT2", syscall.ENOTSUP},
		{"reserved name", "/scientists/S2/E3/T1/R1", "/scientists/S2/E3/T1/neurons", syscall.EEXIST},
		{"missing source", "/scientists/S9", "/scientists/S10", syscall.ENOENT},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToErrno(fs.Rename(ctx, tt.from, tt.to)))
		})
	}
}

func TestInfoFileWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	mkdirAll(t, fs, "/scientists/S", "/scientists/S/E")
	const path = "/scientists/S/E/info.yaml"

	t.Run("write-then-read is idempotent", func(t *testing.T) {
		before := readAll(t, fs, path)
		require.NoError(t, replaceInfo(fs, path, before))
		assert.Equal(t, before, readAll(t, fs, path))
	})

	t.Run("spliced write", func(t *testing.T) {
		doc := readAll(t, fs, path)
		idx := strings.Index(doc, `lab_notebook: ""`)
		require.GreaterOrEqual(t, idx, 0, doc)
		edited := strings.Replace(doc, `lab_notebook: ""`, `lab_notebook: "p.1"`, 1)
		_, err := fs.Write(ctx, path, []byte(edited[idx:]), int64(idx))
		require.NoError(t, err)
		assert.Equal(t, "p.1", infoMap(t, fs, path)["lab_notebook"])
	})

	t.Run("truncate then write", func(t *testing.T) {
		doc := strings.Replace(readAll(t, fs, path), `lab_notebook: p.1`, `lab_notebook: p.2`, 1)
		require.NoError(t, fs.Truncate(ctx, path, 0))
		assert.NotEmpty(t, readAll(t, fs, path), "truncate alone changes nothing")
		_, err := fs.Write(ctx, path, []byte(doc), 0)
		require.NoError(t, err)
		assert.Equal(t, "p.2", infoMap(t, fs, path)["lab_notebook"])
	})

	t.Run("id is read-only", func(t *testing.T) {
		err := replaceInfo(fs, path, "id: forged\nlabel: E\n")
		assert.Equal(t, syscall.EACCES, ToErrno(err))
	})

	t.Run("malformed document", func(t *testing.T) {
		err := replaceInfo(fs, path, "label: [\n")
		assert.Equal(t, syscall.EINVAL, ToErrno(err))
		assert.Equal(t, "E", infoMap(t, fs, path)["label"])
	})

	t.Run("relabel through info", func(t *testing.T) {
		doc := strings.Replace(readAll(t, fs, path), "label: E", "label: E2", 1)
		require.NoError(t, replaceInfo(fs, path, doc))
		_, err := fs.Getattr(ctx, "/scientists/S/E2/info.yaml")
		require.NoError(t, err)
	})

	t.Run("info files cannot be removed", func(t *testing.T) {
		assert.Equal(t, syscall.EACCES, ToErrno(fs.Unlink(ctx, "/scientists/S/info.yaml")))
	})
}

func TestAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	mkdirAll(t, fs, "/scientists/S", "/scientists/S/E", "/scientists/S/E/T", "/scientists/S/E/T/R")
	writeFile(t, fs, "/scientists/S/E/T/R/a.swc", "x")

	tests := []struct {
		path string
		mask uint32
		ok   bool
	}{
		{"/", AccessExists, true},
		{"/", AccessRead | AccessExecute, true},
		{"/", AccessWrite, false},
		{"/scientists", AccessWrite, true},
		{"/experiments", AccessWrite, false},
		{"/scientists/S/info.yaml", AccessRead | AccessWrite, true},
		{"/scientists/S/info.yaml", AccessExecute, false},
		{"/scientists/S/E/T/R/a.swc", AccessRead, true},
		{"/scientists/S/E/T/R/a.swc", AccessWrite, false},
		{"/scientists/S/E/T/R/a.swc", AccessExists, true},
	}
	for _, tt := range tests {
		err := fs.Access(ctx, tt.path, tt.mask)
		if tt.ok {
			assert.NoError(t, err, "%s mask %d", tt.path, tt.mask)
		} else {
			assert.Equal(t, syscall.EACCES, ToErrno(err), "%s mask %d", tt.path, tt.mask)
		}
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t, WithIgnore(func(name string) bool { return strings.HasPrefix(name, "._") }))
	mkdirAll(t, fs, "/scientists/S", "/scientists/S/E", "/scientists/S/E/T", "/scientists/S/E/T/R")

	_, err := fs.Create(ctx, "/scientists/S/notes.txt", os.O_WRONLY)
	assert.Equal(t, syscall.ENOTSUP, ToErrno(err), "only containers hold files")

	_, err = fs.Create(ctx, "/scientists/S/E/T/R/._scan.png", os.O_WRONLY)
	assert.Equal(t, syscall.ENOTSUP, ToErrno(err))

	_, err = fs.Create(ctx, "/scientists/S/E/T/R/info.yaml", os.O_WRONLY)
	assert.Equal(t, syscall.EEXIST, ToErrno(err))

	h, err := fs.Create(ctx, "/scientists/S/E/T/R/a.swc", os.O_WRONLY)
	require.NoError(t, err)
	_, err = fs.Create(ctx, "/scientists/S/E/T/R/a.swc", os.O_WRONLY)
	assert.Equal(t, syscall.EEXIST, ToErrno(err), "pending file")

	entries, err := fs.Readdir(ctx, "/scientists/S/E/T/R")
	require.NoError(t, err)
	assert.Contains(t, names(entries), "a.swc")

	require.NoError(t, fs.TruncateHandle(ctx, h, 3))
	require.NoError(t, fs.Release(ctx, h))
	assert.Equal(t, "\x00\x00\x00", readAll(t, fs, "/scientists/S/E/T/R/a.swc"))

	_, err = fs.ReadHandle(ctx, h, 10, 0)
	assert.Equal(t, syscall.EBADF, ToErrno(err))
}

func TestStatfs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	mkdirAll(t, fs, "/scientists/S", "/scientists/S/E", "/scientists/S/E/T", "/scientists/S/E/T/R")
	writeFile(t, fs, "/scientists/S/E/T/R/a.swc", strings.Repeat("x", 5000))

	st, err := fs.Statfs(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), st.Bsize)
	assert.Equal(t, uint64(2), st.Blocks)
	assert.Equal(t, uint64(5), st.Files)
}

func TestDropHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	repr := "/scientists/A. Turing/Exp01/T1/R1"
	mkdirAll(t, fs, "/scientists/A. Turing", "/scientists/A. Turing/Exp01",
		"/scientists/A. Turing/Exp01/T1", repr)

	h, err := fs.Create(ctx, repr+"/scan.png", os.O_WRONLY)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, h, []byte("PNG"), 0)
	require.NoError(t, err)
	_, err = fs.Open(ctx, repr+"/info.yaml", os.O_RDONLY)
	require.NoError(t, err)

	assert.Equal(t, 2, fs.DropHandles())
	assert.Equal(t, 0, fs.OpenHandles())

	_, err = fs.Getattr(ctx, repr+"/scan.png")
	assert.Equal(t, syscall.ENOENT, ToErrno(err), "an unflushed file is gone with its handle")
	assert.Equal(t, EBADF, fs.Release(ctx, h))
}

func TestInfoSizeBounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	const path = "/scientists/A. Turing/info.yaml"
	mkdirAll(t, fs, "/scientists/A. Turing")
	before := readAll(t, fs, path)

	assert.Equal(t, syscall.EINVAL, ToErrno(fs.Truncate(ctx, path, 1<<62)))
	assert.Equal(t, syscall.EINVAL, ToErrno(fs.Truncate(ctx, path, 16<<30)))
	assert.Equal(t, syscall.EINVAL, ToErrno(fs.Truncate(ctx, path, -1)))
	_, err := fs.Write(ctx, path, []byte("x"), 1<<62)
	assert.Equal(t, syscall.EINVAL, ToErrno(err))
	_, err = fs.Write(ctx, path, []byte("x"), -1)
	assert.Equal(t, syscall.EINVAL, ToErrno(err))
	assert.Equal(t, before, readAll(t, fs, path))

	h, err := fs.Open(ctx, path, os.O_RDWR)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, h, []byte("x"), 1<<62)
	assert.Equal(t, syscall.EINVAL, ToErrno(err))
	_, err = fs.WriteHandle(ctx, h, []byte("x"), infofile.MaxSize)
	assert.Equal(t, syscall.EINVAL, ToErrno(err))
	assert.Equal(t, syscall.EINVAL, ToErrno(fs.TruncateHandle(ctx, h, infofile.MaxSize+1)))
	assert.Equal(t, syscall.EINVAL, ToErrno(fs.TruncateHandle(ctx, h, -1)))
	data, err := fs.ReadHandle(ctx, h, 10, -5)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, fs.Release(ctx, h))
	assert.Equal(t, before, readAll(t, fs, path), "rejected edits leave the document alone")

	// new raw files have their own, larger bound
	mkdirAll(t, fs, "/scientists/A. Turing/E", "/scientists/A. Turing/E/T", "/scientists/A. Turing/E/T/R")
	nh, err := fs.Create(ctx, "/scientists/A. Turing/E/T/R/a.swc", os.O_WRONLY)
	require.NoError(t, err)
	_, err = fs.WriteHandle(ctx, nh, []byte("x"), 1<<62)
	assert.Equal(t, syscall.EINVAL, ToErrno(err))
	assert.Equal(t, syscall.EINVAL, ToErrno(fs.Truncate(ctx, "/scientists/A. Turing/E/T/R/a.swc", MaxNewFileSize+1)))
	_, err = fs.WriteHandle(ctx, nh, []byte("SWC"), infofile.MaxSize)
	require.NoError(t, err, "raw files may exceed the info document bound")
	require.NoError(t, fs.Release(ctx, nh))
}

func TestPendingTruncateFollowsEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := testFS(t)
	const (
		sci  = "/scientists/A. Turing"
		path = sci + "/info.yaml"
	)

	readHandle := func(flags int) string {
		t.Helper()
		h, err := fs.Open(ctx, path, flags)
		require.NoError(t, err)
		data, err := fs.ReadHandle(ctx, h, 1<<20, 0)
		require.NoError(t, err)
		require.NoError(t, fs.Release(ctx, h))
		return string(data)
	}

	t.Run("recreated folder starts fresh", func(t *testing.T) {
		mkdirAll(t, fs, sci)
		require.NoError(t, fs.Truncate(ctx, path, 0))
		require.NoError(t, fs.Rmdir(ctx, sci))
		mkdirAll(t, fs, sci)

		direct := readAll(t, fs, path)
		require.NotEmpty(t, direct)
		assert.Equal(t, direct, readHandle(os.O_RDWR))
		assert.Empty(t, fs.pendingTrunc)
	})

	t.Run("truncate survives a rename", func(t *testing.T) {
		require.NoError(t, fs.Truncate(ctx, path, 0))
		require.NoError(t, fs.Rename(ctx, sci, "/scientists/G. Hopper"))
		mkdirAll(t, fs, sci)

		assert.NotEmpty(t, readHandle(os.O_RDWR), "new entity under the old name")

		h, err := fs.Open(ctx, "/scientists/G. Hopper/info.yaml", os.O_RDWR)
		require.NoError(t, err)
		data, err := fs.ReadHandle(ctx, h, 1<<20, 0)
		require.NoError(t, err)
		assert.Empty(t, data, "renamed entity keeps its pending truncate")
		// an empty document changes nothing
		require.NoError(t, fs.Release(ctx, h))
		_, err = fs.Getattr(ctx, "/scientists/G. Hopper")
		require.NoError(t, err)
	})
}
