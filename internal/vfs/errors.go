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
	"errors"
	"syscall"

	"morphdepot/internal/common"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT    = syscall.ENOENT    // No such file or directory
	EEXIST    = syscall.EEXIST    // File exists
	EINVAL    = syscall.EINVAL    // Invalid argument
	ENOTSUP   = syscall.ENOTSUP   // Operation not supported
	EIO       = syscall.EIO       // I/O error
	EACCES    = syscall.EACCES    // Permission denied
	ENOTEMPTY = syscall.ENOTEMPTY // Directory not empty
	EBADF     = syscall.EBADF     // Bad file descriptor
	EINTR     = syscall.EINTR     // Interrupted system call
)

// ToErrno maps an error to the errno an adapter returns to the kernel.
// nil maps to 0; errors without a kind map to EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch common.KindOf(err) {
	case common.KindNotFound:
		return ENOENT
	case common.KindPermissionDenied:
		return EACCES
	case common.KindUnsupported:
		return ENOTSUP
	case common.KindFormat:
		return EINVAL
	case common.KindConflict:
		return EEXIST
	case common.KindIntegrity:
		return ENOTEMPTY
	case common.KindIO:
		return EIO
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return EINTR
	}
	return EIO
}
