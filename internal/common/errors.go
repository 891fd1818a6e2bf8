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

package common

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so that adapters can map it to an errno.
type Kind uint8

const (
	KindOther Kind = iota
	KindNotFound
	KindPermissionDenied
	KindUnsupported
	KindFormat
	KindConflict
	KindIO
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindUnsupported:
		return "operation not supported"
	case KindFormat:
		return "invalid format"
	case KindConflict:
		return "conflict"
	case KindIO:
		return "I/O error"
	case KindIntegrity:
		return "integrity violation"
	default:
		return "error"
	}
}

// Sentinel errors, one per kind. errors.Is matches an *Error against the
// sentinel of its kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrFormat           = &Error{Kind: KindFormat}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrIO               = &Error{Kind: KindIO}
	ErrIntegrity        = &Error{Kind: KindIntegrity}
)

// Error is the typed failure returned by the path resolver, the virtual nodes,
// the entity store and the content store.
type Error struct {
	Op   string // operation, e.g. "mkdir" or "rawdata.AddFile"
	Path string // namespace path or file name, may be empty
	Kind Kind
	Err  error
}

// E builds an *Error. A nil err is allowed.
func E(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(op, path string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(e.Path)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindOther when there is none.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind != KindOther {
				return e.Kind
			}
			err = e.Err
			continue
		}
		break
	}
	return KindOther
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
