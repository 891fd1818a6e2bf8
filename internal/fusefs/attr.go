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
	"github.com/hanwen/go-fuse/v2/fuse"

	"morphdepot/internal/vfs"
)

const blockSize = 4096

// fillAttr copies a vfs.Stat into a fuse.Attr.
func fillAttr(out *fuse.Attr, st vfs.Stat, ino uint64) {
	out.Ino = ino
	out.Mode = uint32(st.Mode)
	out.Size = uint64(max(st.Size, 0))
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize
	out.Nlink = max(st.Nlink, 1)
	out.Uid, out.Gid = st.UID, st.GID
	out.SetTimes(&st.Atime, &st.Mtime, &st.Ctime)
}

func fillStatfs(out *fuse.StatfsOut, st vfs.Statfs) {
	out.Bsize = st.Bsize
	out.Frsize = st.Bsize
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.NameLen = st.NameLen
}

func direntMode(st vfs.Stat) uint32 {
	return uint32(st.Mode.Type())
}
