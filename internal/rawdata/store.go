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

// Package rawdata manages the content folders of neuro representations.
//
// Every representation owns one folder under the raw-data root, named by the
// representation id. Files are copied into the folder under their base name,
// hashed with SHA-1 while copying, and recorded as File rows. The
// representation's checksum is recomputed explicitly whenever its member set
// changes.
package rawdata

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"morphdepot/internal/common"
	"morphdepot/internal/storage"
)

// incomingPrefix marks partially copied files inside a content folder.
const incomingPrefix = ".incoming-"

// ReservedName is the namespace's info file name; no raw file may shadow it.
const ReservedName = "info.yaml"

// DefaultBlockSize is recorded as st_blksize when the source does not report one.
const DefaultBlockSize = 4096

// Store is the content-addressed raw data store.
type Store struct {
	fs      billy.Filesystem
	catalog *storage.Store
}

// New returns a store that keeps content folders in fs.
func New(fs billy.Filesystem, catalog *storage.Store) *Store {
	return &Store{fs: fs, catalog: catalog}
}

// NewOS returns a store rooted at a host directory, creating it if needed.
func NewOS(root string, catalog *storage.Store) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, common.E("rawdata.New", root, common.KindIO, err)
	}
	return New(osfs.New(root), catalog), nil
}

// ContainerPath returns the folder of a container.
func (s *Store) ContainerPath(containerID string) string {
	return s.fs.Join(s.fs.Root(), containerID)
}

func (s *Store) blobPath(f *storage.File) string {
	return s.fs.Join(f.NeuroRepresentationID, f.FileName)
}

// FileTimes carries the stat values recorded for an added file. Zero times
// default to now and a zero block size to DefaultBlockSize.
type FileTimes struct {
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Blksize int64
}

func (t FileTimes) withDefaults() FileTimes {
	now := time.Now()
	if t.Mtime.IsZero() {
		t.Mtime = now
	}
	if t.Atime.IsZero() {
		t.Atime = t.Mtime
	}
	if t.Ctime.IsZero() {
		t.Ctime = t.Mtime
	}
	if t.Blksize <= 0 {
		t.Blksize = DefaultBlockSize
	}
	return t
}

// CreateContainer creates a representation under a tissue sample together
// with its empty content folder.
func (s *Store) CreateContainer(ctx context.Context, tissueSampleID, label string) (*storage.NeuroRepresentation, error) {
	const op = "rawdata.CreateContainer"
	nr := &storage.NeuroRepresentation{
		Identity:       storage.Identity{ID: uuid.New().String(), Label: label},
		TissueSampleID: tissueSampleID,
		Checksum:       EmptyChecksum,
	}
	if err := s.fs.MkdirAll(nr.ID, 0755); err != nil {
		return nil, common.E(op, label, common.KindIO, err)
	}
	if err := s.catalog.Save(ctx, nr); err != nil {
		s.fs.Remove(nr.ID)
		return nil, err
	}
	return nr, nil
}

// container loads a representation by id.
func (s *Store) container(ctx context.Context, idb bun.IDB, id string) (*storage.NeuroRepresentation, error) {
	e, err := storage.FindByIDWith(ctx, idb, storage.KindRepresentation, id)
	if err != nil {
		return nil, err
	}
	return e.(*storage.NeuroRepresentation), nil
}

// AddFile copies r into the container under name and records it. The
// container checksum is recomputed in the same transaction that inserts the
// File row. On any failure the container row, its checksum and its folder
// are left as they were.
func (s *Store) AddFile(ctx context.Context, containerID, name string, r io.Reader, times FileTimes) (*storage.File, error) {
	const op = "rawdata.AddFile"
	if !common.ValidName(name) || strings.HasPrefix(name, incomingPrefix) {
		return nil, common.Errorf(op, name, common.KindFormat, "invalid file name")
	}
	if name == ReservedName {
		return nil, common.Errorf(op, name, common.KindConflict, "reserved name")
	}
	if _, err := s.container(ctx, s.catalog.DB(), containerID); err != nil {
		return nil, err
	}

	dst := s.fs.Join(containerID, name)
	if _, err := s.fs.Lstat(dst); err == nil {
		return nil, common.Errorf(op, name, common.KindConflict, "file already exists in container")
	}

	tmp := s.fs.Join(containerID, incomingPrefix+uuid.New().String())
	checksum, size, err := s.copyHashed(tmp, r)
	if err != nil {
		s.fs.Remove(tmp)
		return nil, common.E(op, name, common.KindIO, err)
	}

	times = times.withDefaults()
	proto := storage.File{
		NeuroRepresentationID: containerID,
		FileName:              name,
		StAtime:               times.Atime.Unix(),
		StMtime:               times.Mtime.Unix(),
		StCtime:               times.Ctime.Unix(),
		StBlksize:             times.Blksize,
		StSize:                size,
		Checksum:              checksum,
	}

	var (
		file    *storage.File
		renamed bool
	)
	err = s.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		rec := proto
		if err := storage.SaveWith(ctx, tx, &rec); err != nil {
			return err
		}
		if err := s.recomputeWith(ctx, tx, containerID); err != nil {
			return err
		}
		if !renamed {
			if err := s.fs.Rename(tmp, dst); err != nil {
				return common.E(op, name, common.KindIO, err)
			}
			renamed = true
		}
		file = &rec
		return nil
	})
	if err != nil {
		s.fs.Remove(tmp)
		if renamed {
			s.fs.Remove(dst)
		}
		return nil, err
	}
	return file, nil
}

// copyHashed streams r into path while computing its SHA-1.
func (s *Store) copyHashed(path string, r io.Reader) (string, int64, error) {
	f, err := s.fs.Create(path)
	if err != nil {
		return "", 0, err
	}
	h := sha1.New()
	n, err := io.Copy(f, io.TeeReader(r, h))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// AddFileFromPath imports a host file into the container under its base name.
func (s *Store) AddFileFromPath(ctx context.Context, containerID, hostPath string) (*storage.File, error) {
	const op = "rawdata.AddFileFromPath"
	src, name, err := hostFS(hostPath)
	if err != nil {
		return nil, common.E(op, hostPath, common.KindIO, err)
	}
	fi, err := src.Stat(name)
	if err != nil {
		return nil, common.E(op, hostPath, common.KindIO, err)
	}
	if fi.IsDir() {
		return nil, common.Errorf(op, hostPath, common.KindFormat, "is a directory")
	}
	f, err := src.Open(name)
	if err != nil {
		return nil, common.E(op, hostPath, common.KindIO, err)
	}
	defer f.Close()

	return s.AddFile(ctx, containerID, name, f, FileTimes{Mtime: fi.ModTime()})
}

// hostFS splits a host path into a filesystem on its directory and the base name.
func hostFS(hostPath string) (billy.Filesystem, string, error) {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return nil, "", err
	}
	return osfs.New(filepath.Dir(abs)), filepath.Base(abs), nil
}

// DeleteFile removes a file's row and blob and recomputes the container
// checksum, all inside one transaction. A blob that cannot be removed rolls
// the row deletion back.
func (s *Store) DeleteFile(ctx context.Context, file *storage.File) error {
	const op = "rawdata.DeleteFile"
	blob := s.blobPath(file)
	return s.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := storage.DeleteWith(ctx, tx, file); err != nil {
			return err
		}
		if err := s.recomputeWith(ctx, tx, file.NeuroRepresentationID); err != nil {
			return err
		}
		if err := s.fs.Remove(blob); err != nil && !errors.Is(err, os.ErrNotExist) {
			return common.E(op, file.FileName, common.KindIO, err)
		}
		return nil
	})
}

// RemoveFolder removes a container's folder. A folder that still holds
// files is an Integrity error and is left untouched.
func (s *Store) RemoveFolder(containerID string) error {
	const op = "rawdata.RemoveFolder"
	entries, err := s.fs.ReadDir(containerID)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return common.E(op, containerID, common.KindIO, err)
	}
	if len(entries) > 0 {
		return common.Errorf(op, containerID, common.KindIntegrity, "folder still holds %d entries", len(entries))
	}
	if err := s.fs.Remove(containerID); err != nil {
		return common.E(op, containerID, common.KindIO, err)
	}
	return nil
}

// DeleteContainer removes every member file, then the empty folder, then the
// representation row and its neuron links.
func (s *Store) DeleteContainer(ctx context.Context, containerID string) error {
	nr, err := s.container(ctx, s.catalog.DB(), containerID)
	if err != nil {
		return err
	}
	files, err := s.Files(ctx, containerID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.DeleteFile(ctx, f); err != nil {
			return err
		}
	}
	if err := s.RemoveFolder(containerID); err != nil {
		return err
	}
	return s.catalog.Delete(ctx, nr)
}

// Files lists the member files of a container ordered by name.
func (s *Store) Files(ctx context.Context, containerID string) ([]*storage.File, error) {
	children, err := s.catalog.FindChildren(ctx, containerID, storage.RelFiles)
	if err != nil {
		return nil, err
	}
	files := make([]*storage.File, len(children))
	for i, c := range children {
		files[i] = c.(*storage.File)
	}
	return files, nil
}

// Open opens a member file's blob for reading.
func (s *Store) Open(file *storage.File) (billy.File, error) {
	f, err := s.fs.Open(s.blobPath(file))
	if err != nil {
		kind := common.KindIO
		if errors.Is(err, os.ErrNotExist) {
			kind = common.KindNotFound
		}
		return nil, common.E("rawdata.Open", file.FileName, kind, err)
	}
	return f, nil
}

// ReadAt reads up to size bytes of a member file starting at off.
func (s *Store) ReadAt(file *storage.File, size int, off int64) ([]byte, error) {
	f, err := s.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if off >= file.StSize || size <= 0 {
		return []byte{}, nil
	}
	if remain := file.StSize - off; int64(size) > remain {
		size = int(remain)
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, common.E("rawdata.ReadAt", file.FileName, common.KindIO, err)
	}
	return buf[:n], nil
}

// RecomputeChecksum recomputes and stores a container's checksum from the
// digests of its current member rows.
func (s *Store) RecomputeChecksum(ctx context.Context, containerID string) (string, error) {
	var sum string
	err := s.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := s.recomputeWith(ctx, tx, containerID); err != nil {
			return err
		}
		nr, err := s.container(ctx, tx, containerID)
		if err != nil {
			return err
		}
		sum = nr.Checksum
		return nil
	})
	return sum, err
}

func (s *Store) recomputeWith(ctx context.Context, idb bun.IDB, containerID string) error {
	nr, err := s.container(ctx, idb, containerID)
	if err != nil {
		return err
	}
	children, err := storage.FindChildrenWith(ctx, idb, containerID, storage.RelFiles)
	if err != nil {
		return err
	}
	files := make([]*storage.File, len(children))
	for i, c := range children {
		files[i] = c.(*storage.File)
	}
	nr.Checksum = ContainerChecksum(files)
	return storage.SaveWith(ctx, idb, nr)
}
