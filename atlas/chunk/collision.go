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

// Йоу, чат! Колізії листового чанка.
// Висоти розбиті на сітку бінів, над нею лежить квадродерево [min,max].
// Кожен бін - це прогін зміщень трикутників у спільному буфері,
// який закінчується сентинелом 0xFFFF. Усі запити тут працюють
// в одиничному просторі чанка: x,y в [0,1], z у світових одиницях.

package chunk

import (
	"fmt"
	"math"

	"AtlasCore/atlas/qtree"
)

// convexDepth - на скільки опускаємо задню точку опуклої фічі
const convexDepth = 1.0

// Collision - дані колізій одного чанка
type Collision struct {
	owner         uint64
	depth         int
	grid          int
	verticalScale float32

	positions  [][3]float32 // вершини в одиничному просторі
	tree       []MinMax     // лінеаризоване дерево [min,max]
	binOffsets []uint16     // початок прогону кожного біна в triIndices
	triIndices []uint16     // спільний буфер прогонів
	indices    []uint16     // індексний буфер, спільний з Payload

	convexIdx map[uint16]int // арена фіч: зміщення трикутника -> convexes
	convexes  []Convex
}

func (c *Collision) validate() error {
	for bin, off := range c.binOffsets {
		i := int(off)
		for ; i < len(c.triIndices) && c.triIndices[i] != binEnd; i++ {
			if t := int(c.triIndices[i]); t+2 >= len(c.indices) {
				return fmt.Errorf("bin %d references triangle at %d past index buffer", bin, t)
			}
		}
		if i >= len(c.triIndices) {
			return fmt.Errorf("bin %d run is not terminated", bin)
		}
	}
	return nil
}

// GridSize - кількість бінів по осі
func (c *Collision) GridSize() int { return c.grid }

// Bin повертає діапазон висот біна
func (c *Collision) Bin(col, row int) MinMax {
	return c.tree[qtree.NodeIndex(c.depth-1, uint32(col), uint32(row))]
}

// Bounds - бокс усього чанка в одиничному просторі
func (c *Collision) Bounds() Box {
	root := c.tree[0]
	if root.Empty() {
		return Box{Max: [3]float32{1, 1, 0}}
	}
	return Box{
		Min: [3]float32{0, 0, float32(root.Min) * c.verticalScale},
		Max: [3]float32{1, 1, float32(root.Max) * c.verticalScale},
	}
}

func (c *Collision) triangle(off uint16) [3][3]float32 {
	return [3][3]float32{
		c.positions[c.indices[off]],
		c.positions[c.indices[off+1]],
		c.positions[c.indices[off+2]],
	}
}

// binSpan переводить відрізок [lo,hi] осі в діапазон бінів
func (c *Collision) binSpan(lo, hi float32) (int, int, bool) {
	if hi < 0 || lo > 1 {
		return 0, 0, false
	}
	g := float32(c.grid)
	a := int(math.Floor(float64(lo * g)))
	b := int(math.Floor(float64(hi * g)))
	return max(a, 0), min(b, c.grid-1), true
}

// eachTriangle обходить трикутники бінів, чий діапазон висот перетинає бокс.
// Трикутник, що лежить у кількох бінах, видається один раз.
func (c *Collision) eachTriangle(box Box, fn func(off uint16)) {
	x0, x1, okx := c.binSpan(box.Min[0], box.Max[0])
	y0, y1, oky := c.binSpan(box.Min[1], box.Max[1])
	if !okx || !oky {
		return
	}
	seen := make(map[uint16]struct{})
	for row := y0; row <= y1; row++ {
		for col := x0; col <= x1; col++ {
			mm := c.Bin(col, row)
			if mm.Empty() ||
				box.Max[2] < float32(mm.Min)*c.verticalScale ||
				box.Min[2] > float32(mm.Max)*c.verticalScale {
				continue
			}
			for i := int(c.binOffsets[row*c.grid+col]); c.triIndices[i] != binEnd; i++ {
				off := c.triIndices[i]
				if _, ok := seen[off]; ok {
					continue
				}
				seen[off] = struct{}{}
				fn(off)
			}
		}
	}
}

// convex повертає фічу з арени чанка, створюючи її при першому запиті
func (c *Collision) convex(off uint16) Convex {
	if i, ok := c.convexIdx[off]; ok {
		return c.convexes[i]
	}
	tri := c.triangle(off)
	var centroid [3]float32
	for _, v := range tri {
		for k := range centroid {
			centroid[k] += v[k] / 3
		}
	}
	centroid[2] -= convexDepth
	cv := Convex{Key: ConvexKey{Owner: c.owner, Offset: off}, Tri: tri, Back: centroid}
	if c.convexIdx == nil {
		c.convexIdx = make(map[uint16]int)
	}
	c.convexIdx[off] = len(c.convexes)
	c.convexes = append(c.convexes, cv)
	return cv
}

// BuildCollisionInfo збирає колізійні дані під бокс (в одиничному просторі).
// wantConvex реєструє опуклі фічі у ws, wantPolys дописує трикутники в polys.
// Повертає true якщо хоч щось було додано.
func (p *Payload) BuildCollisionInfo(box Box, wantConvex, wantPolys bool, ws *WorkingSet, polys *PolyList) bool {
	c := p.Collision
	if c == nil || (!wantConvex && !wantPolys) {
		return false
	}
	produced := false
	c.eachTriangle(box, func(off uint16) {
		tri := c.triangle(off)
		if !box.Overlaps(triBounds(tri)) {
			return
		}
		if wantConvex && ws != nil && ws.Add(c.convex(off)) {
			produced = true
		}
		if wantPolys && polys != nil {
			polys.Polys = append(polys.Polys, Polygon{
				Verts:  tri,
				Normal: triNormal(tri),
				Key:    ConvexKey{Owner: c.owner, Offset: off},
			})
			produced = true
		}
	})
	return produced
}

// Hit - результат перетину променя
type Hit struct {
	T      float32    // частка відрізка [0,1]
	Point  [3]float32 // точка в одиничному просторі
	Normal [3]float32
	Key    ConvexKey
}

// CastRay шукає найближчий перетин відрізка start-end з поверхнею чанка
func (p *Payload) CastRay(start, end [3]float32) (Hit, bool) {
	c := p.Collision
	if c == nil {
		return Hit{}, false
	}
	box := Box{Min: start, Max: start}.Extend(end)
	dir := sub(end, start)
	best := Hit{T: math.MaxFloat32}
	found := false
	c.eachTriangle(box, func(off uint16) {
		tri := c.triangle(off)
		t, ok := intersect(start, dir, tri)
		if !ok || t > best.T {
			return
		}
		best = Hit{
			T:      t,
			Point:  add(start, scale(dir, t)),
			Normal: triNormal(tri),
			Key:    ConvexKey{Owner: c.owner, Offset: off},
		}
		found = true
	})
	return best, found
}

// intersect - Моллер-Трумбор, t в межах [0,1]
func intersect(orig, dir [3]float32, tri [3][3]float32) (float32, bool) {
	const eps = 1e-9
	e1, e2 := sub(tri[1], tri[0]), sub(tri[2], tri[0])
	pv := cross(dir, e2)
	det := dot(e1, pv)
	if det > -eps && det < eps {
		return 0, false
	}
	inv := 1 / det
	tv := sub(orig, tri[0])
	u := dot(tv, pv) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	qv := cross(tv, e1)
	v := dot(dir, qv) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := dot(e2, qv) * inv
	return t, t >= 0 && t <= 1
}

func triBounds(tri [3][3]float32) Box {
	return Box{Min: tri[0], Max: tri[0]}.Extend(tri[1]).Extend(tri[2])
}

// triNormal повертає одиничну нормаль, завжди догори
func triNormal(tri [3][3]float32) [3]float32 {
	n := cross(sub(tri[1], tri[0]), sub(tri[2], tri[0]))
	l := float32(math.Sqrt(float64(dot(n, n))))
	if l == 0 {
		return [3]float32{0, 0, 1}
	}
	if n[2] < 0 {
		l = -l
	}
	return scale(n, 1/l)
}

func sub(a, b [3]float32) [3]float32 { return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func add(a, b [3]float32) [3]float32 { return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func scale(a [3]float32, s float32) [3]float32 {
	return [3]float32{a[0] * s, a[1] * s, a[2] * s}
}
func dot(a, b [3]float32) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func cross(a, b [3]float32) [3]float32 {
	return [3]float32{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}
