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
	"morphdepot/internal/common"
)

// Mode is a file type plus permission bit field in stat(2) layout.
type Mode uint32

const (
	ModeTypeMask Mode = 0170000
	ModeDir      Mode = 0040000
	ModeRegular  Mode = 0100000
	ModeSymlink  Mode = 0120000
	ModePermMask Mode = 0777
)

// Common modes of the namespace.
var (
	ModeDirRW  = ModeDir | 0755
	ModeDirRO  = ModeDir | 0555
	ModeFileRW = ModeRegular | 0644
	ModeFileRO = ModeRegular | 0444
)

const rwx = "rwxrwxrwx"

// ParseMode parses the symbolic form "drwxr-xr-x". The first character is
// one of '-', 'd', 'l'; each following character is either its rwx letter
// or '-'.
func ParseMode(s string) (Mode, error) {
	if len(s) != 10 {
		return 0, common.Errorf("ParseMode", s, common.KindFormat, "want 10 characters, got %d", len(s))
	}
	var m Mode
	switch s[0] {
	case '-':
		m = ModeRegular
	case 'd':
		m = ModeDir
	case 'l':
		m = ModeSymlink
	default:
		return 0, common.Errorf("ParseMode", s, common.KindFormat, "unknown file type %q", s[0])
	}
	for i := 0; i < 9; i++ {
		switch s[i+1] {
		case rwx[i]:
			m |= 1 << uint(8-i)
		case '-':
		default:
			return 0, common.Errorf("ParseMode", s, common.KindFormat, "unexpected %q at position %d", s[i+1], i+1)
		}
	}
	return m, nil
}

// ModeFromBits wraps raw stat(2) mode bits.
func ModeFromBits(bits uint32) Mode {
	return Mode(bits)
}

func (m Mode) Type() Mode { return m & ModeTypeMask }
func (m Mode) Perm() Mode { return m & ModePermMask }

func (m Mode) IsDir() bool     { return m.Type() == ModeDir }
func (m Mode) IsFile() bool    { return m.Type() == ModeRegular }
func (m Mode) IsSymlink() bool { return m.Type() == ModeSymlink }

// String renders the symbolic form accepted by ParseMode. Types outside
// the three supported ones render as '?'.
func (m Mode) String() string {
	buf := make([]byte, 10)
	switch m.Type() {
	case ModeRegular:
		buf[0] = '-'
	case ModeDir:
		buf[0] = 'd'
	case ModeSymlink:
		buf[0] = 'l'
	default:
		buf[0] = '?'
	}
	for i := 0; i < 9; i++ {
		if m&(1<<uint(8-i)) != 0 {
			buf[i+1] = rwx[i]
		} else {
			buf[i+1] = '-'
		}
	}
	return string(buf)
}
