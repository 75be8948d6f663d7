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

package chunk

// ConvexKey - чанк-власник і зміщення трикутника в індексному буфері
type ConvexKey struct {
	Owner  uint64
	Offset uint16
}

// Convex - трикутник плюс задня точка, годиться для опуклого солвера
type Convex struct {
	Key  ConvexKey
	Tri  [3][3]float32
	Back [3]float32
}

// Polygon - трикутник для полігонального списку колізій
type Polygon struct {
	Verts  [3][3]float32
	Normal [3]float32
	Key    ConvexKey
}

// PolyList заповнюється викликачем запиту
type PolyList struct {
	Polys []Polygon
}

// WorkingSet - набір фіч, уже зареєстрованих одним об'єктом фізики.
// Одна й та сама фіча двічі не додається.
type WorkingSet struct {
	seen     map[ConvexKey]struct{}
	Convexes []Convex
}

// Add реєструє фічу, false якщо вона вже є
func (ws *WorkingSet) Add(c Convex) bool {
	if ws.seen == nil {
		ws.seen = make(map[ConvexKey]struct{})
	}
	if _, ok := ws.seen[c.Key]; ok {
		return false
	}
	ws.seen[c.Key] = struct{}{}
	ws.Convexes = append(ws.Convexes, c)
	return true
}

// Has перевіряє чи фіча вже зареєстрована
func (ws *WorkingSet) Has(k ConvexKey) bool {
	_, ok := ws.seen[k]
	return ok
}

// Reset очищає набір, наприклад коли об'єкт покинув зону
func (ws *WorkingSet) Reset() {
	clear(ws.seen)
	ws.Convexes = ws.Convexes[:0]
}
