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

// Йоу, чат! Слоти - єдине місце, яке чіпають обидва потоки.
// Для кожного типу даних є масив слотів запитів і масив слотів
// на здачу результату. Кожен доступ - під одним м'ютексом, а
// потік завантаження спить на умовній змінній, поки слоти порожні.

package atlas

import (
	"sync"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
)

// Kind - тип даних чанка
type Kind uint8

const (
	KindGeometry Kind = iota
	KindTexture
	kindCount
)

func (k Kind) String() string {
	if k == KindGeometry {
		return "geometry"
	}
	return "texture"
}

// loadRequest - одне завантаження в польоті
type loadRequest struct {
	kind     Kind // дискримінант результату
	reason   Reason
	priority float32
	pos      qtree.Pos
	gen      uint64 // покоління запису на момент допуску
	claimed  bool   // потік завантаження вже взяв його, під slots.mu

	// результат, заповнений потоком завантаження
	geom *chunk.Payload // для KindGeometry
	tex  []byte         // для KindTexture
	err  error
}

var loadRequestPool = sync.Pool{New: func() any { return new(loadRequest) }}

func newLoadRequest() *loadRequest { return loadRequestPool.Get().(*loadRequest) }

func freeLoadRequest(req *loadRequest) {
	*req = loadRequest{}
	loadRequestPool.Put(req)
}

// slots - обмежені масиви запитів та здачі
type slots struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool

	request [kindCount][]*loadRequest // зайнятий поки результат не здано
	retire  [kindCount][]*loadRequest // готові результати для головного потоку

	retired chan struct{} // будить Precache
}

func newSlots(capacity int) *slots {
	s := &slots{retired: make(chan struct{}, 1)}
	s.cond = sync.NewCond(&s.mu)
	for k := range s.request {
		s.request[k] = make([]*loadRequest, capacity)
		s.retire[k] = make([]*loadRequest, capacity)
	}
	return s
}

func (s *slots) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// stop знімає прапорець роботи і будить потік завантаження
func (s *slots) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cond.Broadcast()
}

func (s *slots) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// claim блокує потік завантаження, поки не з'явиться не взятий запит.
// Повертає false коли треба завершуватись.
func (s *slots) claim() (*loadRequest, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if !s.running {
			return nil, 0, false
		}
		for k := range s.request {
			for i, req := range s.request[k] {
				if req != nil && !req.claimed {
					req.claimed = true
					return req, i, true
				}
			}
		}
		s.cond.Wait()
	}
}

// publish кладе результат у слот здачі і звільняє слот запиту
func (s *slots) publish(i int, req *loadRequest) {
	s.mu.Lock()
	s.retire[req.kind][i] = req
	s.request[req.kind][i] = nil
	s.mu.Unlock()

	select {
	case s.retired <- struct{}{}:
	default:
	}
}

// drain забирає всі готові результати типу k
func (s *slots) drain(k Kind) []*loadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*loadRequest
	for i, req := range s.retire[k] {
		if req != nil {
			out = append(out, req)
			s.retire[k][i] = nil
		}
	}
	return out
}

// install ставить запит у вільний слот і будить потік завантаження.
// Слот вільний, коли порожні і запит, і здача.
func (s *slots) install(req *loadRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.request[req.kind] {
		if s.request[req.kind][i] == nil && s.retire[req.kind][i] == nil {
			s.request[req.kind][i] = req
			s.cond.Signal()
			return true
		}
	}
	return false
}

// free - кількість вільних слотів типу k
func (s *slots) free(k Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.request[k] {
		if s.request[k][i] == nil && s.retire[k][i] == nil {
			n++
		}
	}
	return n
}

// inFlight - кількість зайнятих слотів типу k, разом з неотриманою здачею
func (s *slots) inFlight(k Kind) int {
	return len(s.request[k]) - s.free(k)
}

// dropUnclaimed знімає запити, які потік завантаження ще не взяв
func (s *slots) dropUnclaimed() []*loadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*loadRequest
	for k := range s.request {
		for i, req := range s.request[k] {
			if req != nil && !req.claimed {
				out = append(out, req)
				s.request[k][i] = nil
			}
		}
	}
	return out
}
