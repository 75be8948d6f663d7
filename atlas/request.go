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

// Йоу, чат! Реєстр запитів - хто хоче бачити чанк і наскільки терміново.
// Кілька незалежних запитувачів (в'юери, фізика) сходяться в одному записі,
// а пріоритет чанка - це максимум, а не сума. Лінійний пошук тут норм,
// бо на один чанк рідко буває більше кількох запитувачів. Якщо їх стане
// багато - список треба міняти на хеш-індекс.

package atlas

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Requester - ідентичність того, хто просить чанк
type Requester = uuid.UUID

// NewRequester видає нову унікальну ідентичність
func NewRequester() Requester { return uuid.New() }

// Reason - навіщо чанк потрібен
type Reason uint8

const (
	ReasonRender    Reason = iota // в'юер малює цей LOD
	ReasonCollision               // фізика запитує геометрію
	ReasonPrefetch                // наперед, на низькому пріоритеті
	ReasonPrecache                // примусове повне завантаження
)

func (r Reason) String() string {
	switch r {
	case ReasonRender:
		return "render"
	case ReasonCollision:
		return "collision"
	case ReasonPrefetch:
		return "prefetch"
	case ReasonPrecache:
		return "precache"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// note - один запитувач у списку
type note struct {
	who      Requester
	priority float32
	reason   Reason
	next     *note
}

var notePool = sync.Pool{New: func() any { return new(note) }}

// RequestRegistry - запитувачі одного чанка для одного типу даних.
// Тільки з головного потоку.
type RequestRegistry struct {
	head     *note
	refCount int
}

// Request додає запитувача або оновлює його пріоритет і причину
func (r *RequestRegistry) Request(who Requester, priority float32, reason Reason) {
	for n := r.head; n != nil; n = n.next {
		if n.who == who {
			n.priority, n.reason = priority, reason
			return
		}
	}
	n := notePool.Get().(*note)
	*n = note{who: who, priority: priority, reason: reason, next: r.head}
	r.head = n
	r.refCount++
}

// Cancel прибирає запитувача. Причина лише для журналу, шукаємо за who.
// Повертає false якщо такого запитувача не було.
func (r *RequestRegistry) Cancel(who Requester, _ Reason) bool {
	for link := &r.head; *link != nil; link = &(*link).next {
		if n := *link; n.who == who {
			*link = n.next
			*n = note{}
			notePool.Put(n)
			r.refCount--
			return true
		}
	}
	return false
}

// CumulativePriority - максимальний пріоритет серед активних запитувачів, 0 якщо їх немає
func (r *RequestRegistry) CumulativePriority() float32 {
	p, _ := r.Top()
	return p
}

// Top повертає найвищий пріоритет і причину запитувача, якому він належить
func (r *RequestRegistry) Top() (float32, Reason) {
	if r == nil || r.head == nil {
		return 0, ReasonRender
	}
	best := r.head
	for n := best.next; n != nil; n = n.next {
		if n.priority > best.priority {
			best = n
		}
	}
	return best.priority, best.reason
}

// RefCount - кількість активних запитувачів
func (r *RequestRegistry) RefCount() int {
	if r == nil {
		return 0
	}
	return r.refCount
}

// Has перевіряє чи запитувач зараз у списку
func (r *RequestRegistry) Has(who Requester) bool {
	if r == nil {
		return false
	}
	for n := r.head; n != nil; n = n.next {
		if n.who == who {
			return true
		}
	}
	return false
}
