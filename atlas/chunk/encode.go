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

// Йоу, чат! Зворотний бік декодера - кодування чанка.
// Ним користуються atlasgen і тести, рантайм сюди не заходить.

package chunk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"AtlasCore/atlas/qtree"
)

// Source - чанк у сирому вигляді з фіксованою комою
type Source struct {
	Vertices  [][4]int16 // x, y, z, morph
	Indices   []uint16   // список трикутників
	TriCount  uint32
	Collision *CollisionSource
}

// CollisionSource - готові до запису дані колізій
type CollisionSource struct {
	Tree       []MinMax
	BinOffsets []uint16
	TriIndices []uint16
}

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) put(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

// Encode пише чанк у форматі, який читає Decode
func Encode(w io.Writer, src *Source) error {
	if len(src.Indices) == 0 {
		return errors.New("chunk: encode with empty index buffer")
	}
	e := &encoder{w: bufio.NewWriter(w)}
	e.put(magicHeader)
	e.put(uint32(len(src.Vertices)))
	e.put(src.Vertices)
	e.put(uint32(len(src.Indices)))
	e.put(src.Indices)
	e.put(src.TriCount)
	if col := src.Collision; col == nil {
		e.put(uint8(0))
	} else {
		e.put(uint8(1))
		e.put(col.Tree)
		e.put(magicCollision)
		e.put(col.BinOffsets)
		e.put(uint32(len(col.TriIndices)))
		e.put(col.TriIndices)
	}
	e.put(magicTrailer)
	if e.err != nil {
		return fmt.Errorf("encode chunk fail: %w", e.err)
	}
	return e.w.Flush()
}

// BuildCollision розкладає трикутники по бінах сітки 2^(depth-1)
// і будує над ними дерево [min,max]
func BuildCollision(verts [][4]int16, indices []uint16, depth int) (*CollisionSource, error) {
	if depth < 1 || depth > qtree.MaxLevel {
		return nil, fmt.Errorf("chunk: collision tree depth %d", depth)
	}
	grid := 1 << uint(depth-1)
	empty := MinMax{Min: math.MaxInt16, Max: math.MinInt16}
	tree := make([]MinMax, qtree.NodeCount(depth))
	for i := range tree {
		tree[i] = empty
	}
	bins := make([][]uint16, grid*grid)

	cell := func(v int16) int {
		u := (float64(v)*fixedScale)*0.5 + 0.5
		return min(max(int(math.Floor(u*float64(grid))), 0), grid-1)
	}
	for off := 0; off+2 < len(indices); off += 3 {
		if off > math.MaxUint16-1 {
			return nil, fmt.Errorf("chunk: triangle offset %d does not fit u16", off)
		}
		x0, y0, x1, y1 := grid, grid, -1, -1
		zmin, zmax := int16(math.MaxInt16), int16(math.MinInt16)
		for _, idx := range indices[off : off+3] {
			v := verts[idx]
			cx, cy := cell(v[0]), cell(v[1])
			x0, x1 = min(x0, cx), max(x1, cx)
			y0, y1 = min(y0, cy), max(y1, cy)
			zmin, zmax = min(zmin, v[2]), max(zmax, v[2])
		}
		for row := y0; row <= y1; row++ {
			for col := x0; col <= x1; col++ {
				b := row*grid + col
				bins[b] = append(bins[b], uint16(off))
				n := qtree.NodeIndex(depth-1, uint32(col), uint32(row))
				tree[n].Min = min(tree[n].Min, zmin)
				tree[n].Max = max(tree[n].Max, zmax)
			}
		}
	}

	// внутрішні вузли - об'єднання дітей, від листя до кореня
	for level := depth - 2; level >= 0; level-- {
		side := uint32(1) << uint(level)
		for row := uint32(0); row < side; row++ {
			for col := uint32(0); col < side; col++ {
				p := qtree.Pos{Level: uint8(level), Col: col, Row: row}
				mm := empty
				for _, c := range p.Children() {
					ch := tree[c.Index()]
					mm.Min, mm.Max = min(mm.Min, ch.Min), max(mm.Max, ch.Max)
				}
				tree[p.Index()] = mm
			}
		}
	}

	src := &CollisionSource{Tree: tree, BinOffsets: make([]uint16, len(bins))}
	for b, run := range bins {
		if len(src.TriIndices) > math.MaxUint16 {
			return nil, fmt.Errorf("chunk: triangle index buffer exceeds u16 offsets")
		}
		src.BinOffsets[b] = uint16(len(src.TriIndices))
		src.TriIndices = append(src.TriIndices, run...)
		src.TriIndices = append(src.TriIndices, binEnd)
	}
	return src, nil
}

// GridSource будує регулярну сітку n x n вершин, що покриває [-1,1]^2.
// height повертає висоту у фіксованій комі для точки (u,v) в [0,1].
func GridSource(n int, height func(u, v float64) int16, morph func(u, v float64) int16) *Source {
	src := &Source{}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			u, v := float64(i)/float64(n-1), float64(j)/float64(n-1)
			x := int16(math.Round((u*2 - 1) * 16383))
			y := int16(math.Round((v*2 - 1) * 16383))
			var m int16
			if morph != nil {
				m = morph(u, v)
			}
			src.Vertices = append(src.Vertices, [4]int16{x, y, height(u, v), m})
		}
	}
	for j := 0; j+1 < n; j++ {
		for i := 0; i+1 < n; i++ {
			a := uint16(j*n + i)
			b, c, d := a+1, a+uint16(n), a+uint16(n)+1
			src.Indices = append(src.Indices, a, b, c, b, d, c)
		}
	}
	src.TriCount = uint32(len(src.Indices) / 3)
	return src
}
