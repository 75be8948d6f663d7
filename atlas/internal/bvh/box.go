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

// Йоу, чат! Тут вектори і коробки для дерева чанків.
// Межі включні: коробки, що торкаються гранню, вважаються перетином,
// інакше запит на стику двох чанків загубить одного з них.

package bvh

import (
	"golang.org/x/exp/constraints"
)

// Vec3 - тривимірний вектор
type Vec3[I constraints.Float] [3]I

func (v Vec3[I]) Add(o Vec3[I]) Vec3[I] { return Vec3[I]{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3[I]) Sub(o Vec3[I]) Vec3[I] { return Vec3[I]{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3[I]) Mul(s I) Vec3[I]       { return Vec3[I]{v[0] * s, v[1] * s, v[2] * s} }

// Max - покомпонентний максимум
func (v Vec3[I]) Max(o Vec3[I]) Vec3[I] {
	return Vec3[I]{max(v[0], o[0]), max(v[1], o[1]), max(v[2], o[2])}
}

// Min - покомпонентний мінімум
func (v Vec3[I]) Min(o Vec3[I]) Vec3[I] {
	return Vec3[I]{min(v[0], o[0]), min(v[1], o[1]), min(v[2], o[2])}
}

// LessEq - чи всі компоненти не більші за o
func (v Vec3[I]) LessEq(o Vec3[I]) bool { return v[0] <= o[0] && v[1] <= o[1] && v[2] <= o[2] }

// AABB - коробка, вирівняна по осях
type AABB[I constraints.Float] struct {
	Lower, Upper Vec3[I]
}

// Empty - чи коробка вивернута хоч по одній осі
func (b AABB[I]) Empty() bool { return !b.Lower.LessEq(b.Upper) }

// Contains - чи точка всередині або на межі
func (b AABB[I]) Contains(p Vec3[I]) bool { return b.Lower.LessEq(p) && p.LessEq(b.Upper) }

// Overlaps - чи коробки мають спільну точку
func (b AABB[I]) Overlaps(o AABB[I]) bool {
	return b.Lower.LessEq(o.Upper) && o.Lower.LessEq(b.Upper)
}

// Union - найменша коробка, що містить обидві
func (b AABB[I]) Union(o AABB[I]) AABB[I] {
	return AABB[I]{Lower: b.Lower.Min(o.Lower), Upper: b.Upper.Max(o.Upper)}
}

// Surface - половина площі поверхні, для евристики цього досить
func (b AABB[I]) Surface() I {
	d := b.Upper.Sub(b.Lower)
	return d[0]*d[1] + d[1]*d[2] + d[2]*d[0]
}

// Segment - відрізок від From до To, тест для променів
type Segment[I constraints.Float] struct {
	From, To Vec3[I]
}

// Bounds - коробка відрізка
func (s Segment[I]) Bounds() AABB[I] {
	return AABB[I]{Lower: s.From.Min(s.To), Upper: s.From.Max(s.To)}
}

// Crosses - чи відрізок проходить через коробку (метод пластин)
func (b AABB[I]) Crosses(s Segment[I]) bool {
	lo, hi := I(0), I(1)
	d := s.To.Sub(s.From)
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if s.From[i] < b.Lower[i] || s.From[i] > b.Upper[i] {
				return false
			}
			continue
		}
		t0 := (b.Lower[i] - s.From[i]) / d[i]
		t1 := (b.Upper[i] - s.From[i]) / d[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		lo, hi = max(lo, t0), min(hi, t1)
		if lo > hi {
			return false
		}
	}
	return true
}

// Crossing - тест для Find, що пропускає межі, через які йде відрізок
func Crossing[I constraints.Float](s Segment[I]) func(AABB[I]) bool {
	return func(b AABB[I]) bool { return b.Crosses(s) }
}
