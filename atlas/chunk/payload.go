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

// Йоу, чат! Тут розбираємо бінарний потік одного чанка геометрії.
// Формат суворий: кожен сентинел має збігтися, інакше чанк битий
// і ми повертаємо ErrFormat, а не криву геометрію.

package chunk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"AtlasCore/atlas/qtree"
)

const (
	magicHeader    uint32 = 0xbeef1234 // початок чанка
	magicCollision uint32 = 0xb33fd34d // після дерева висот
	magicTrailer   uint32 = 0xb1e2e3f4 // кінець чанка

	binEnd = 0xFFFF // кінець прогону трикутників у біні

	fixedScale = 1.0 / 16384 // масштаб x,y з фіксованої коми

	maxVertices   = 1 << 16 // індекси u16
	maxTriIndices = 1 << 20
)

// ErrFormat - потік не відповідає формату чанка
var ErrFormat = errors.New("chunk: bad format")

// Options - параметри ресурсу, потрібні для декодування
type Options struct {
	VerticalScale      float32 // масштаб z та morph
	CollisionTreeDepth int     // глибина дерева [min,max]
}

// GridSize повертає кількість бінів по одній осі
func (o Options) GridSize() int {
	if o.CollisionTreeDepth < 1 {
		return 0
	}
	return 1 << uint(o.CollisionTreeDepth-1)
}

// Vertex - вершина після декодування
type Vertex struct {
	Pos   [3]float32 // x,y в [-1,1], z вже помножений на VerticalScale
	Morph float32    // зміщення для змішування з батьківським LOD
	UV    [2]float32 // планарні координати текстури
}

// MinMax - сирий діапазон висот вузла дерева колізій
type MinMax struct {
	Min, Max int16
}

// Empty - бін без жодного трикутника
func (m MinMax) Empty() bool { return m.Min > m.Max }

var payloadIDs atomic.Uint64

// Payload - розпакований чанк
// Належить рівно одному запису таблиці чанків
type Payload struct {
	id uint64

	Vertices []Vertex // сирі вершини, nil після Prepare
	Indices  []uint16 // сирі індекси, nil після Prepare
	TriCount uint32   // реальна кількість трикутників

	Collision *Collision // nil якщо колізій у чанку немає

	vb, ib   Buffer // буфери рендерера після Prepare
	prepared bool
}

// ID - ключ для дедуплікації опуклих фіч між чанками
func (p *Payload) ID() uint64 { return p.id }

// Prepared повертає true після успішного Prepare
func (p *Payload) Prepared() bool { return p.prepared }

// decoder накопичує першу помилку, щоб не перевіряти кожне читання
type decoder struct {
	r   *bufio.Reader
	buf [4]byte
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.err = fmt.Errorf("%w: truncated stream", ErrFormat)
		} else {
			d.err = fmt.Errorf("read chunk stream fail: %w", err)
		}
		clear(d.buf[:])
	}
	return d.buf[:n]
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) i16() int16  { return int16(d.u16()) }

func (d *decoder) expect(magic uint32, what string) {
	if v := d.u32(); d.err == nil && v != magic {
		d.err = fmt.Errorf("%w: %s sentinel %#08x, want %#08x", ErrFormat, what, v, magic)
	}
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
	}
}

// Decode читає чанк з потоку
func Decode(r io.Reader, opts Options) (*Payload, error) {
	d := &decoder{r: bufio.NewReader(r)}
	d.expect(magicHeader, "header")

	vertCount := d.u32()
	if d.err == nil && (vertCount == 0 || vertCount > maxVertices) {
		d.fail("vertex count %d", vertCount)
	}
	if d.err != nil {
		return nil, d.err
	}
	p := &Payload{id: payloadIDs.Add(1), Vertices: make([]Vertex, vertCount)}
	for i := range p.Vertices {
		x, y := float32(d.i16())*fixedScale, float32(d.i16())*fixedScale
		z, morph := float32(d.i16())*opts.VerticalScale, float32(d.i16())*opts.VerticalScale
		p.Vertices[i] = Vertex{
			Pos:   [3]float32{x, y, z},
			Morph: morph,
			UV:    [2]float32{x*0.5 + 0.5, y*0.5 + 0.5},
		}
	}

	idxCount := d.u32()
	if d.err == nil && (idxCount == 0 || idxCount > maxVertices*3) {
		d.fail("index count %d", idxCount)
	}
	if d.err != nil {
		return nil, d.err
	}
	p.Indices = make([]uint16, idxCount)
	for i := range p.Indices {
		p.Indices[i] = d.u16()
		if d.err == nil && uint32(p.Indices[i]) >= vertCount {
			d.fail("index %d references vertex %d of %d", i, p.Indices[i], vertCount)
		}
	}
	p.TriCount = d.u32()

	switch flag := d.u8(); {
	case d.err != nil:
	case flag == 0:
	case flag == 1:
		p.Collision = decodeCollision(d, p, opts)
	default:
		d.fail("collision flag %d", flag)
	}
	d.expect(magicTrailer, "trailer")
	if d.err != nil {
		return nil, d.err
	}
	return p, nil
}

func decodeCollision(d *decoder, p *Payload, opts Options) *Collision {
	grid := opts.GridSize()
	if grid == 0 || opts.CollisionTreeDepth > qtree.MaxLevel {
		d.fail("collision tree depth %d", opts.CollisionTreeDepth)
		return nil
	}
	c := &Collision{
		owner:         p.id,
		depth:         opts.CollisionTreeDepth,
		grid:          grid,
		verticalScale: opts.VerticalScale,
		indices:       p.Indices,
	}

	// позиції для колізій - ті самі вершини, x,y переведені в [0,1]
	c.positions = make([][3]float32, len(p.Vertices))
	for i, v := range p.Vertices {
		c.positions[i] = [3]float32{v.UV[0], v.UV[1], v.Pos[2]}
	}

	c.tree = make([]MinMax, qtree.NodeCount(c.depth))
	for i := range c.tree {
		c.tree[i] = MinMax{Min: d.i16(), Max: d.i16()}
	}
	d.expect(magicCollision, "collision")

	c.binOffsets = make([]uint16, grid*grid)
	for i := range c.binOffsets {
		c.binOffsets[i] = d.u16()
	}

	n := d.u32()
	if d.err == nil && n > maxTriIndices {
		d.fail("triangle index buffer length %d", n)
	}
	if d.err != nil {
		return nil
	}
	c.triIndices = make([]uint16, n)
	for i := range c.triIndices {
		c.triIndices[i] = d.u16()
	}
	if d.err != nil {
		return nil
	}
	if err := c.validate(); err != nil {
		d.fail("%v", err)
		return nil
	}
	return c
}

// Prepare віддає сирі дані рендереру і звільняє CPU-копії.
// Тільки з головного потоку.
func (p *Payload) Prepare(f BufferFactory) error {
	if p.prepared {
		return nil
	}
	vb, err := f.CreateBuffer(VertexBuffer, p.vertexBytes())
	if err != nil {
		return fmt.Errorf("create vertex buffer fail: %w", err)
	}
	ib, err := f.CreateBuffer(IndexBuffer, p.indexBytes())
	if err != nil {
		vb.Release()
		return fmt.Errorf("create index buffer fail: %w", err)
	}
	p.vb, p.ib = vb, ib
	p.prepared = true

	p.Vertices = nil
	// якщо колізії тримають індекси, буфер переходить до них без копії
	p.Indices = nil
	return nil
}

// Release звільняє буфери рендерера і все, що тримає чанк
func (p *Payload) Release() {
	if p.vb != nil {
		p.vb.Release()
	}
	if p.ib != nil {
		p.ib.Release()
	}
	p.vb, p.ib = nil, nil
	p.Vertices, p.Indices, p.Collision = nil, nil, nil
	p.prepared = false
}

// vertexBytes пакує вершини: pos xyz, morph, uv - по float32
func (p *Payload) vertexBytes() []byte {
	const stride = 6 * 4
	out := make([]byte, len(p.Vertices)*stride)
	for i, v := range p.Vertices {
		fs := [6]float32{v.Pos[0], v.Pos[1], v.Pos[2], v.Morph, v.UV[0], v.UV[1]}
		for j, f := range fs {
			binary.LittleEndian.PutUint32(out[i*stride+j*4:], math.Float32bits(f))
		}
	}
	return out
}

func (p *Payload) indexBytes() []byte {
	out := make([]byte, len(p.Indices)*2)
	for i, idx := range p.Indices {
		binary.LittleEndian.PutUint16(out[i*2:], idx)
	}
	return out
}
