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

package storage

import (
	"context"

	"github.com/uptrace/bun"

	"morphdepot/internal/common"
)

// Dimension tables share one Go type, so queries name the table explicitly.

// ListDimension returns the values of a dimension ordered by name.
func (s *Store) ListDimension(ctx context.Context, dim Dimension) ([]*DimensionValue, error) {
	return ListDimensionWith(ctx, s.db, dim)
}

// ListDimensionWith is ListDimension on an explicit connection or transaction.
func ListDimensionWith(ctx context.Context, idb bun.IDB, dim Dimension) ([]*DimensionValue, error) {
	if !dim.Valid() {
		return nil, common.Errorf("list dimension", string(dim), common.KindNotFound, "unknown dimension")
	}
	var vals []*DimensionValue
	err := idb.NewRaw("SELECT name, description, comment FROM ? ORDER BY name", bun.Ident(dim.Table())).
		Scan(ctx, &vals)
	if err != nil {
		return nil, classify("list dimension", string(dim), err)
	}
	for _, v := range vals {
		v.Dimension = dim
	}
	return vals, nil
}

// GetDimensionValue loads one dimension value by name.
func (s *Store) GetDimensionValue(ctx context.Context, dim Dimension, name string) (*DimensionValue, error) {
	if !dim.Valid() {
		return nil, common.Errorf("get dimension", string(dim), common.KindNotFound, "unknown dimension")
	}
	var vals []*DimensionValue
	err := s.db.NewRaw("SELECT name, description, comment FROM ? WHERE name = ?", bun.Ident(dim.Table()), name).
		Scan(ctx, &vals)
	if err != nil {
		return nil, classify("get dimension", name, err)
	}
	if len(vals) == 0 {
		return nil, common.E("get dimension", name, common.KindNotFound, nil)
	}
	vals[0].Dimension = dim
	return vals[0], nil
}

// saveDimensionWith upserts a dimension value keyed by name.
func saveDimensionWith(ctx context.Context, idb bun.IDB, d *DimensionValue) error {
	if !d.Dimension.Valid() {
		return common.Errorf("save dimension", string(d.Dimension), common.KindNotFound, "unknown dimension")
	}
	_, err := idb.ExecContext(ctx,
		"INSERT INTO ? (name, description, comment) VALUES (?, ?, ?) "+
			"ON CONFLICT (name) DO UPDATE SET description = excluded.description, comment = excluded.comment",
		bun.Ident(d.Dimension.Table()), d.Name, d.Description, d.Comment)
	return classify("save dimension", d.Name, err)
}

// CreateDimensionValue inserts a new value; an existing name is a Conflict.
func (s *Store) CreateDimensionValue(ctx context.Context, d *DimensionValue) error {
	if !d.Dimension.Valid() {
		return common.Errorf("create dimension", string(d.Dimension), common.KindNotFound, "unknown dimension")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ? (name, description, comment) VALUES (?, ?, ?)",
		bun.Ident(d.Dimension.Table()), d.Name, d.Description, d.Comment)
	return classify("create dimension", d.Name, err)
}

// deleteDimensionWith removes a value. Values still referenced by neurons
// fail with an Integrity error.
func deleteDimensionWith(ctx context.Context, idb bun.IDB, d *DimensionValue) error {
	res, err := idb.ExecContext(ctx, "DELETE FROM ? WHERE name = ?", bun.Ident(d.Dimension.Table()), d.Name)
	if err != nil {
		return classify("delete dimension", d.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.E("delete dimension", d.Name, common.KindNotFound, nil)
	}
	return nil
}
