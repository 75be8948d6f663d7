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

// Йоу, чат! Це контейнер тайлів квадродерева - один файл на весь датасет.
// Спочатку фіксований заголовок, потім таблиця зміщень (по u32 на кожен
// вузол дерева), а далі самі тайли. Формат little-endian.

package tilestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"AtlasCore/atlas/qtree"
)

// Version - тип вмісту тайлів
type Version uint32

const (
	Bitmap Version = 1 // сирий RGBA8 растр tileSize x tileSize
	DDS    Version = 2 // DDS блоб, вміст не перевіряється
)

func (v Version) String() string {
	switch v {
	case Bitmap:
		return "bitmap"
	case DDS:
		return "dds"
	default:
		return fmt.Sprintf("version(%d)", uint32(v))
	}
}

const (
	headerSize  = 12   // version, treeDepth, tileSize
	maxTileSize = 8192 // більше ніхто не пише
)

var (
	// ErrFormat повертається при невідповідності заголовка або таблиці
	ErrFormat = errors.New("tilestore: bad format")
	// ErrTileMissing - у вузла немає тайла (зміщення 0)
	ErrTileMissing = errors.New("tilestore: tile missing")
)

// Store - відкритий тільки на читання контейнер
// Після Open незмінний, тому ReadTile можна кликати з будь-якого потоку
type Store struct {
	r      io.ReaderAt
	closer io.Closer
	size   int64 // розмір файлу

	version   Version
	treeDepth int
	tileSize  int
	offsets   []uint32 // зміщення тайла для кожного лінійного вузла
	sorted    []uint32 // відсортовані ненульові зміщення для TileLengthGuess
}

// Open відкриває контейнер з диска і будує таблицю зміщень
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tile store fail: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat tile store fail: %w", err)
	}
	s, err := NewReader(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewReader читає заголовок з довільного io.ReaderAt заданого розміру
func NewReader(r io.ReaderAt, size int64) (*Store, error) {
	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}
	s := &Store{
		r:         r,
		size:      size,
		version:   Version(binary.LittleEndian.Uint32(hdr[0:])),
		treeDepth: int(binary.LittleEndian.Uint32(hdr[4:])),
		tileSize:  int(binary.LittleEndian.Uint32(hdr[8:])),
	}
	if err := validateShape(s.version, s.treeDepth, s.tileSize); err != nil {
		return nil, err
	}

	n := qtree.NodeCount(s.treeDepth)
	dataStart := int64(headerSize) + int64(n)*4
	if size < dataStart {
		return nil, fmt.Errorf("%w: file size %d smaller than offset table end %d", ErrFormat, size, dataStart)
	}
	table := make([]byte, int64(n)*4)
	if _, err := r.ReadAt(table, headerSize); err != nil {
		return nil, fmt.Errorf("%w: short offset table: %v", ErrFormat, err)
	}
	s.offsets = make([]uint32, n)
	for i := range s.offsets {
		off := binary.LittleEndian.Uint32(table[i*4:])
		if off != 0 && (int64(off) < dataStart || int64(off) >= size) {
			return nil, fmt.Errorf("%w: tile %d offset %d out of range", ErrFormat, i, off)
		}
		s.offsets[i] = off
		if off != 0 {
			s.sorted = append(s.sorted, off)
		}
	}
	sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i] < s.sorted[j] })
	return s, nil
}

func validateShape(v Version, treeDepth, tileSize int) error {
	if v != Bitmap && v != DDS {
		return fmt.Errorf("%w: unknown version %d", ErrFormat, uint32(v))
	}
	if treeDepth < 1 || treeDepth > qtree.MaxLevel+1 {
		return fmt.Errorf("%w: tree depth %d", ErrFormat, treeDepth)
	}
	if tileSize <= 0 || tileSize > maxTileSize || tileSize&(tileSize-1) != 0 {
		return fmt.Errorf("%w: tile size %d", ErrFormat, tileSize)
	}
	return nil
}

// Close закриває файл, якщо Store його відкривав
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Store) Version() Version { return s.version }
func (s *Store) TreeDepth() int   { return s.treeDepth }
func (s *Store) TileSize() int    { return s.tileSize }

// Contains перевіряє що вузол належить дереву цього контейнера
func (s *Store) Contains(p qtree.Pos) bool {
	return p.Valid() && int(p.Level) < s.treeDepth
}

// TileOffset повертає зміщення тайла, 0 якщо тайла немає
func (s *Store) TileOffset(p qtree.Pos) uint32 {
	if !s.Contains(p) {
		return 0
	}
	return s.offsets[p.Index()]
}

// TileLengthGuess повертає відстань до наступного за зміщенням тайла
// або до кінця файлу. Точна довжина у форматі не зберігається.
func (s *Store) TileLengthGuess(p qtree.Pos) uint32 {
	off := s.TileOffset(p)
	if off == 0 {
		return 0
	}
	i := sort.Search(len(s.sorted), func(i int) bool { return s.sorted[i] > off })
	if i < len(s.sorted) {
		return s.sorted[i] - off
	}
	return uint32(s.size - int64(off))
}

// Section повертає потік байтів тайла
func (s *Store) Section(p qtree.Pos) (*io.SectionReader, error) {
	if !s.Contains(p) {
		return nil, fmt.Errorf("%w: %v outside tree of depth %d", ErrTileMissing, p, s.treeDepth)
	}
	off := s.TileOffset(p)
	if off == 0 {
		return nil, fmt.Errorf("%w: %v", ErrTileMissing, p)
	}
	return io.NewSectionReader(s.r, int64(off), int64(s.TileLengthGuess(p))), nil
}

// ReadTile читає байти тайла повністю
func (s *Store) ReadTile(p qtree.Pos) ([]byte, error) {
	sec, err := s.Section(p)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sec.Size())
	if _, err := io.ReadFull(sec, buf); err != nil {
		return nil, fmt.Errorf("read tile %v fail: %w", p, err)
	}
	return buf, nil
}
