package fusefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"morphdepot/internal/rawdata"
	"morphdepot/internal/storage"
	"morphdepot/internal/vfs"
)

func TestMountOptionsValidation(t *testing.T) {
	t.Parallel()

	_, err := Mount(nil, Options{Mountpoint: t.TempDir()})
	assert.Error(t, err)

	catalog, err := storage.Create(filepath.Join(t.TempDir(), "catalog.db"), storage.Options{})
	require.NoError(t, err)
	defer catalog.Close()
	_, err = Mount(vfs.New(catalog, rawdata.New(memfs.New(), catalog)), Options{})
	assert.Error(t, err)
}

// testMount mounts a fresh catalog. It skips when FUSE cannot be used in
// the test environment.
func testMount(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
	root := t.TempDir()
	catalog, err := storage.Create(filepath.Join(root, "catalog.db"), storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	mountpoint := filepath.Join(root, "mnt")
	server, err := Mount(vfs.New(catalog, rawdata.New(memfs.New(), catalog)), Options{Mountpoint: mountpoint})
	if err != nil {
		t.Skipf("skipping: cannot mount FUSE: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint
}

func TestMountedNamespace(t *testing.T) {
	mnt := testMount(t)
	repr := filepath.Join(mnt, "scientists", "A. Turing", "Exp01", "T1", "R1")
	require.NoError(t, os.MkdirAll(repr, 0o755))

	entries, err := os.ReadDir(mnt)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"experiments", "options", "scientists"}, names)

	require.NoError(t, os.WriteFile(filepath.Join(repr, "scan.png"), []byte("PNGDATA"), 0o644))
	data, err := os.ReadFile(filepath.Join(mnt, "experiments", "Exp01", "T1", "R1", "scan.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	raw, err := os.ReadFile(filepath.Join(repr, "info.yaml"))
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &info))
	assert.NotEqual(t, rawdata.EmptyChecksum, info["checksum"])

	err = os.Remove(filepath.Join(mnt, "scientists", "A. Turing"))
	assert.Error(t, err, "non-empty scientist folder")

	require.NoError(t, os.Remove(filepath.Join(repr, "scan.png")))
	raw, err = os.ReadFile(filepath.Join(repr, "info.yaml"))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &info))
	assert.Equal(t, rawdata.EmptyChecksum, info["checksum"])
}
