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
	"errors"
	"runtime/debug"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"morphdepot/internal/vfs"
)

// toErrno maps a vfs error to the errno returned to the kernel. Duplicate
// labels mean the catalog is inconsistent and are logged as errors; other
// unexpected failures are logged as warnings.
func toErrno(op, path string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	errno := vfs.ToErrno(err)

	var dup *vfs.DuplicateError
	switch {
	case errors.As(err, &dup):
		log.Errorf("[FUSE] %s %s: catalog integrity problem: %v", op, path, err)
	case errno == syscall.EIO:
		log.Warnf("[FUSE] %s %s: %v", op, path, err)
	default:
		log.Debugf("[FUSE] %s %s: %v (%v)", op, path, err, errno)
	}
	return errno
}

// enter logs the start of an operation.
func enter(op, path string) time.Time {
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("[FUSE] %s %s", op, path)
	}
	return time.Now()
}

// leave is deferred by every operation. It logs the result and turns a
// panic into EIO.
func leave(op, path string, start time.Time, errno *syscall.Errno) {
	if r := recover(); r != nil {
		log.Errorf("[FUSE] %s %s: panic: %v\n%s", op, path, r, debug.Stack())
		*errno = syscall.EIO
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[FUSE] %s %s -> %v (%s)", op, path, errnoName(*errno), time.Since(start))
	}
}

func errnoName(errno syscall.Errno) string {
	if errno == 0 {
		return "OK"
	}
	return errno.Error()
}
