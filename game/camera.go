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

package game

import (
	"math"
	"sync"
	"time"
)

// GroundFunc - висота поверхні під точкою, false якщо поверхні не знайдено
type GroundFunc func(x, y float32) (float32, bool)

// Orbit - камера, що літає по колу над ландшафтом
type Orbit struct {
	Center   [2]float32
	Radius   float32
	Altitude float32 // над поверхнею, якщо її видно, інакше абсолютна
	Speed    float32 // радіан за секунду
	Ground   GroundFunc

	mu    sync.Mutex
	angle float64
	focus [3]float32
}

// Advance рухає камеру на dt. Ground кличеться без захопленого м'ютекса.
func (o *Orbit) Advance(dt time.Duration) {
	o.mu.Lock()
	o.angle += float64(o.Speed) * dt.Seconds()
	angle := o.angle
	o.mu.Unlock()

	x := o.Center[0] + o.Radius*float32(math.Cos(angle))
	y := o.Center[1] + o.Radius*float32(math.Sin(angle))
	z := o.Altitude
	if o.Ground != nil {
		if h, ok := o.Ground(x, y); ok {
			z += h
		}
	}

	o.mu.Lock()
	o.focus = [3]float32{x, y, z}
	o.mu.Unlock()
}

// Focus - поточна позиція камери
func (o *Orbit) Focus() [3]float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.focus
}
