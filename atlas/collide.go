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

// Йоу, чат! Колізії у світових координатах.
// Корінь дерева накриває квадрат [0, TerrainSize] по x і y, кожен
// рівень ділить сторону навпіл. Чанк рахує колізії в одиничному
// просторі, а тут ми переводимо запити туди і результати назад.

package atlas

import (
	"math"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/internal/bvh"
	"AtlasCore/atlas/qtree"
)

type (
	boxf      = bvh.AABB[float32]
	chunkNode = bvh.Node[float32, boxf, *entry]
	chunkTree = bvh.Tree[float32, boxf, *entry]
)

// ChunkFrame повертає світовий кут чанка і довжину його сторони
func (r *Resource) ChunkFrame(pos qtree.Pos) (x, y, size float32) {
	size = r.opts.TerrainSize / float32(uint32(1)<<pos.Level)
	return float32(pos.Col) * size, float32(pos.Row) * size, size
}

func (r *Resource) toUnit(pos qtree.Pos, p [3]float32) [3]float32 {
	x, y, size := r.ChunkFrame(pos)
	return [3]float32{(p[0] - x) / size, (p[1] - y) / size, p[2]}
}

func (r *Resource) toWorld(pos qtree.Pos, p [3]float32) [3]float32 {
	x, y, size := r.ChunkFrame(pos)
	return [3]float32{x + p[0]*size, y + p[1]*size, p[2]}
}

// нормалі масштабуються оберненим масштабом
func (r *Resource) normalToWorld(pos qtree.Pos, n [3]float32) [3]float32 {
	_, _, size := r.ChunkFrame(pos)
	w := [3]float32{n[0] / size, n[1] / size, n[2]}
	l := float32(math.Sqrt(float64(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])))
	if l == 0 {
		return n
	}
	return [3]float32{w[0] / l, w[1] / l, w[2] / l}
}

func (r *Resource) boxToUnit(pos qtree.Pos, b chunk.Box) chunk.Box {
	return chunk.Box{Min: r.toUnit(pos, b.Min), Max: r.toUnit(pos, b.Max)}
}

func (r *Resource) worldBounds(e *entry) boxf {
	b := e.geom.Collision.Bounds()
	return boxf{Lower: r.toWorld(e.pos, b.Min), Upper: r.toWorld(e.pos, b.Max)}
}

func (r *Resource) addCollider(e *entry) {
	if e.geom == nil || e.geom.Collision == nil || e.colNode != nil {
		return
	}
	e.colNode = r.collision.Insert(r.worldBounds(e), e)
}

func (r *Resource) removeCollider(e *entry) {
	if e.colNode != nil {
		r.collision.Delete(e.colNode)
		e.colNode = nil
	}
}

// Colliders - кількість резидентних чанків з колізіями
func (r *Resource) Colliders() int { return r.collision.Len() }

// BuildCollisionInfo збирає колізії всіх резидентних чанків під світовим боксом.
// Фічі, вже зареєстровані в ws, повторно не додаються.
func (r *Resource) BuildCollisionInfo(box chunk.Box, wantConvex, wantPolys bool, ws *chunk.WorkingSet, polys *chunk.PolyList) bool {
	if !wantConvex && !wantPolys {
		return false
	}
	var (
		local    chunk.WorkingSet
		locals   chunk.PolyList
		produced bool
	)
	r.collision.Find(bvh.Overlapping(boxf{Lower: box.Min, Upper: box.Max}), func(n *chunkNode) bool {
		e := n.Value
		local.Reset()
		locals.Polys = locals.Polys[:0]
		if !e.geom.BuildCollisionInfo(r.boxToUnit(e.pos, box), wantConvex, wantPolys, &local, &locals) {
			return true
		}
		for _, c := range local.Convexes {
			if ws == nil {
				break
			}
			for i := range c.Tri {
				c.Tri[i] = r.toWorld(e.pos, c.Tri[i])
			}
			c.Back = r.toWorld(e.pos, c.Back)
			if ws.Add(c) {
				produced = true
			}
		}
		for _, p := range locals.Polys {
			if polys == nil {
				break
			}
			for i := range p.Verts {
				p.Verts[i] = r.toWorld(e.pos, p.Verts[i])
			}
			p.Normal = r.normalToWorld(e.pos, p.Normal)
			polys.Polys = append(polys.Polys, p)
			produced = true
		}
		return true
	})
	return produced
}

// CastRay шукає найближчий перетин світового відрізка з резидентною поверхнею
func (r *Resource) CastRay(start, end [3]float32) (chunk.Hit, bool) {
	best := chunk.Hit{T: math.MaxFloat32}
	found := false
	seg := bvh.Segment[float32]{From: start, To: end}
	r.collision.Find(bvh.Crossing(seg), func(n *chunkNode) bool {
		e := n.Value
		// частка відрізка не змінюється при афінному переході
		hit, ok := e.geom.CastRay(r.toUnit(e.pos, start), r.toUnit(e.pos, end))
		if !ok || hit.T >= best.T {
			return true
		}
		hit.Point = r.toWorld(e.pos, hit.Point)
		hit.Normal = r.normalToWorld(e.pos, hit.Normal)
		best, found = hit, true
		return true
	})
	return best, found
}
