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
	"morphdepot/internal/storage"
)

// EntityRawFile is a stored raw data file inside a representation folder.
type EntityRawFile struct {
	base
	env  *env
	file *storage.File
}

func newRawFile(parent *EntityDirectory, f *storage.File) *EntityRawFile {
	return &EntityRawFile{
		base: base{path: parent.path.Child(f.FileName), mode: ModeFileRO},
		env:  parent.env,
		file: f,
	}
}

// File returns the backing row.
func (f *EntityRawFile) File() *storage.File { return f.file }

func (f *EntityRawFile) Attr(ctx context.Context) (Stat, error) {
	return NewStat(f.mode, f.file.StSize, WithTimes(
		time.Unix(f.file.StAtime, 0),
		time.Unix(f.file.StMtime, 0),
		time.Unix(f.file.StCtime, 0),
	)), nil
}

func (f *EntityRawFile) Access(ctx context.Context, mask uint32) error {
	return checkAccess(f, mask, false)
}

func (f *EntityRawFile) List(ctx context.Context) ([]VirtualNode, error) {
	return nil, notDir("readdir", f)
}

func (f *EntityRawFile) Read(ctx context.Context, size int, off int64) ([]byte, error) {
	return f.env.content.ReadAt(f.file, size, off)
}

func (f *EntityRawFile) Write(ctx context.Context, buf []byte, off int64) (int, error) {
	return 0, common.Errorf("write", f.path.String(), common.KindUnsupported, "raw files are immutable")
}

func (f *EntityRawFile) Resolve(ctx context.Context, p common.Path) (VirtualNode, error) {
	return Resolve(ctx, f, p)
}

// Remove deletes the file row and blob and updates the container checksum.
func (f *EntityRawFile) Remove(ctx context.Context) error {
	return f.env.content.DeleteFile(ctx, f.file)
}
