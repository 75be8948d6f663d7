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

// BufferKind - тип буфера рендерера
type BufferKind uint8

const (
	VertexBuffer BufferKind = iota
	IndexBuffer
)

func (k BufferKind) String() string {
	if k == VertexBuffer {
		return "vertex"
	}
	return "index"
}

// Buffer - буфер, яким володіє рендерер
type Buffer interface {
	Release()
}

// BufferFactory - єдине, що нам треба від рендерера для геометрії
type BufferFactory interface {
	CreateBuffer(kind BufferKind, data []byte) (Buffer, error)
}

// Box - паралелепіпед, вирівняний по осях
type Box struct {
	Min, Max [3]float32
}

// Overlaps перевіряє перетин двох боксів, дотик рахується
func (b Box) Overlaps(o Box) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Extend розширює бокс так, щоб він містив точку
func (b Box) Extend(p [3]float32) Box {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
	return b
}
