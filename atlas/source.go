// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Йоу, чат! Тут ми читаємо байти тайлів з диска.
// Геометрія і текстури лежать у двох контейнерах однакової форми дерева.
// Читання йде з потоку завантаження, тому обмежувач швидкості чекає,
// а не відмовляє.

package atlas

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"AtlasCore/atlas/qtree"
	"AtlasCore/atlas/tilestore"
)

// TileSource - звідки потік завантаження бере сирі байти чанків
type TileSource interface {
	TreeDepth() int
	HasTextures() bool
	ReadTile(ctx context.Context, kind Kind, pos qtree.Pos) ([]byte, error)
}

// Dataset - контейнер геометрії та необов'язковий контейнер текстур
type Dataset struct {
	geom    *tilestore.Store
	tex     *tilestore.Store // nil якщо текстур немає
	limiter *rate.Limiter    // обмежувач читань з диска, nil - без обмежень
}

// OpenDataset відкриває контейнери. texPath може бути порожнім.
func OpenDataset(geomPath, texPath string, limiter *rate.Limiter) (*Dataset, error) {
	geom, err := tilestore.Open(geomPath)
	if err != nil {
		return nil, fmt.Errorf("open geometry store fail: %w", err)
	}
	d := &Dataset{geom: geom, limiter: limiter}
	if texPath == "" {
		return d, nil
	}
	tex, err := tilestore.Open(texPath)
	if err != nil {
		_ = geom.Close()
		return nil, fmt.Errorf("open texture store fail: %w", err)
	}
	if tex.TreeDepth() != geom.TreeDepth() {
		_ = geom.Close()
		_ = tex.Close()
		return nil, fmt.Errorf("%w: texture depth %d, geometry depth %d",
			tilestore.ErrFormat, tex.TreeDepth(), geom.TreeDepth())
	}
	d.tex = tex
	return d, nil
}

func (d *Dataset) TreeDepth() int    { return d.geom.TreeDepth() }
func (d *Dataset) HasTextures() bool { return d.tex != nil }

// ReadTile читає тайл заданого типу. Текстури перевіряються на розмір або магію.
func (d *Dataset) ReadTile(ctx context.Context, kind Kind, pos qtree.Pos) ([]byte, error) {
	store := d.geom
	if kind == KindTexture {
		if d.tex == nil {
			return nil, ErrNoTextures
		}
		store = d.tex
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	data, err := store.ReadTile(pos)
	if err != nil {
		return nil, err
	}
	if kind == KindTexture {
		return checkTexture(store.Version(), store.TileSize(), data)
	}
	return data, nil
}

// Close закриває обидва контейнери
func (d *Dataset) Close() error {
	err := d.geom.Close()
	if d.tex != nil {
		err = errors.Join(err, d.tex.Close())
	}
	return err
}

var ddsMagic = []byte("DDS ")

func checkTexture(v tilestore.Version, tileSize int, data []byte) ([]byte, error) {
	switch v {
	case tilestore.Bitmap:
		// довжина - лише оцінка, хвіст після растра відрізаємо
		want := tileSize * tileSize * 4
		if len(data) < want {
			return nil, fmt.Errorf("%w: bitmap tile has %d bytes, want %d", tilestore.ErrFormat, len(data), want)
		}
		return data[:want], nil
	case tilestore.DDS:
		if !bytes.HasPrefix(data, ddsMagic) {
			return nil, fmt.Errorf("%w: dds tile without magic", tilestore.ErrFormat)
		}
	}
	return data, nil
}
