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

// Йоу, чат! Тут живе вся арифметика лінеаризованого квадродерева.
// Кожен чанк має координати (level, col, row), але на диску і в таблиці
// чанків нам зручніше мати один номер вузла. Ніяких вказівників -
// індекс рахується з рівня та позиції.

package qtree

import "fmt"

// MaxLevel - найглибший рівень, для якого індекси ще влазять в uint32
const MaxLevel = 15

// Pos - ідентичність чанка в дереві
type Pos struct {
	Level uint8  // глибина вузла, 0 - корінь
	Col   uint32 // стовпчик у межах рівня, [0, 2^Level)
	Row   uint32 // рядок у межах рівня, [0, 2^Level)
}

// NodeCount повертає кількість вузлів повного дерева над рівнем level.
// Закрита форма суми 4^0 + 4^1 + ... + 4^(level-1).
func NodeCount(level int) uint32 {
	if level <= 0 {
		return 0
	}
	return uint32(0x5555555555555555 & (uint64(1)<<(2*uint(level)) - 1))
}

// NodeIndex повертає лінійний індекс вузла
func NodeIndex(level int, col, row uint32) uint32 {
	return NodeCount(level) + row<<uint(level) + col
}

// Index - лінійний індекс цієї позиції
func (p Pos) Index() uint32 { return NodeIndex(int(p.Level), p.Col, p.Row) }

// Valid перевіряє що col,row лежать у межах свого рівня
func (p Pos) Valid() bool {
	if p.Level > MaxLevel {
		return false
	}
	side := uint32(1) << p.Level
	return p.Col < side && p.Row < side
}

// Parent повертає батьківський вузол. Для кореня повертає сам корінь.
func (p Pos) Parent() Pos {
	if p.Level == 0 {
		return p
	}
	return Pos{Level: p.Level - 1, Col: p.Col >> 1, Row: p.Row >> 1}
}

// Children повертає чотирьох нащадків у порядку (0,0) (1,0) (0,1) (1,1)
func (p Pos) Children() [4]Pos {
	l, c, r := p.Level+1, p.Col<<1, p.Row<<1
	return [4]Pos{
		{Level: l, Col: c, Row: r},
		{Level: l, Col: c + 1, Row: r},
		{Level: l, Col: c, Row: r + 1},
		{Level: l, Col: c + 1, Row: r + 1},
	}
}

func (p Pos) String() string {
	return fmt.Sprintf("L%d(%d,%d)", p.Level, p.Col, p.Row)
}

// PosOf - обернена до NodeIndex функція
func PosOf(index uint32) Pos {
	level := 0
	for level < MaxLevel && NodeCount(level+1) <= index {
		level++
	}
	rel := index - NodeCount(level)
	return Pos{
		Level: uint8(level),
		Col:   rel & (uint32(1)<<uint(level) - 1),
		Row:   rel >> uint(level),
	}
}
