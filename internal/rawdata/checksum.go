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

package rawdata

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"sort"

	"morphdepot/internal/storage"
)

// EmptyChecksum is the checksum of a container without files (SHA-1 of no input).
const EmptyChecksum = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

// FileChecksum returns the hex SHA-1 of r's content and the number of bytes read.
func FileChecksum(r io.Reader) (string, int64, error) {
	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ContainerChecksum returns the hex SHA-1 over the member files' hex digests,
// concatenated in ascending file name order (byte-wise). Upload order does
// not matter; only the names and digests do.
func ContainerChecksum(files []*storage.File) string {
	sorted := make([]*storage.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FileName < sorted[j].FileName
	})

	h := sha1.New()
	for _, f := range sorted {
		io.WriteString(h, f.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil))
}
