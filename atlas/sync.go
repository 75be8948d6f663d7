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

// Йоу, чат! Тут кадровий цикл ресурсу. Раз на кадр головний потік
// забирає готові результати, вивантажує непотрібне і роздає вільні
// слоти найважливішим чанкам з черги.

package atlas

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/tilestore"
)

// Sync - один крок на кадр. Повторний виклик з тим самим кадром нічого не робить.
func (r *Resource) Sync(frame uint64) {
	if r.closed || (r.synced && r.lastSyncedFrame == frame) {
		return
	}
	r.synced, r.lastSyncedFrame = true, frame
	r.step()
}

func (r *Resource) step() {
	r.retire()
	r.evict()
	r.admit()
}

// Precache крутить кроки, поки черга і слоти не спорожніють
func (r *Resource) Precache(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	for {
		r.step()
		if r.drained() {
			return nil
		}
		if !r.opts.Synchronous && !r.slots.isRunning() {
			return ErrLoaderStopped
		}
		select {
		case <-r.slots.retired:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Resource) drained() bool {
	for k := Kind(0); k < kindCount; k++ {
		if len(r.pending[k]) > 0 || r.slots.inFlight(k) > 0 {
			return false
		}
	}
	return true
}

// retire забирає здачу з усіх слотів
func (r *Resource) retire() {
	for k := Kind(0); k < kindCount; k++ {
		for _, req := range r.slots.drain(k) {
			r.finish(req)
			freeLoadRequest(req)
		}
	}
}

// finish переносить результат у запис таблиці
func (r *Resource) finish(req *loadRequest) {
	k := req.kind
	e := r.lookup(req.pos)
	if e == nil || e.gen != req.gen {
		r.log.Debug("Discard stale load", zap.Stringer("kind", k), zap.Stringer("pos", req.pos))
		if req.geom != nil {
			req.geom.Release()
		}
		return
	}
	e.inFlight[k] = false

	if req.err != nil {
		if errors.Is(req.err, context.Canceled) {
			// потік зупинили посеред читання, це не збій чанка
			e.state[k] = StateUnloaded
			if e.requests[k].RefCount() > 0 {
				r.enqueue(e, k)
			}
			return
		}
		r.fail(e, k, req.err)
		return
	}
	if e.requests[k].RefCount() == 0 {
		if req.geom != nil {
			req.geom.Release()
		}
		e.state[k] = StateUnloaded
		return
	}

	log := r.chunkLog(e.pos)
	switch k {
	case KindGeometry:
		e.state[k] = StateGeomLoaded
		if err := req.geom.Prepare(r.renderer); err != nil {
			req.geom.Release()
			r.fail(e, k, err)
			return
		}
		e.geom = req.geom
		e.state[k] = StatePrepared
		r.addCollider(e)
	case KindTexture:
		e.state[k] = StateTexLoaded
		tex, err := r.renderer.UploadTexture(e.pos, req.tex)
		if err != nil {
			r.fail(e, k, err)
			return
		}
		e.texture = tex
		e.state[k] = StateTextured
	}
	log.Debug("Chunk resident", zap.Stringer("kind", k), zap.Stringer("state", e.State()))
}

func (r *Resource) enqueue(e *entry, k Kind) {
	e.state[k] = requestedState(k)
	e.pending[k] = true
	r.pending[k] = append(r.pending[k], e)
}

// fail позначає чанк збійним. Повторно він не вантажиться до Purge.
func (r *Resource) fail(e *entry, k Kind, err error) {
	e.failed[k] = err
	e.state[k] = StateUnloaded
	r.chunkLog(e.pos).Warn("Chunk load failed",
		zap.Stringer("kind", k),
		zap.String("cause", failureCause(err)),
		zap.Error(err))
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, tilestore.ErrTileMissing):
		return "missing"
	case errors.Is(err, chunk.ErrFormat), errors.Is(err, tilestore.ErrFormat):
		return "format"
	default:
		return "io"
	}
}

// evict вивантажує все, що більше ніхто не тримає
func (r *Resource) evict() {
	for idx, e := range r.entries {
		for k := Kind(0); k < kindCount; k++ {
			if e.requests[k].RefCount() > 0 {
				continue
			}
			if e.loaded(k) {
				r.unload(e, k)
			}
			if e.state[k] == StateUnloaded && !e.pending[k] && !e.inFlight[k] {
				e.requests[k] = nil
			}
		}
		if e.idle() {
			delete(r.entries, idx)
		}
	}
}

func (r *Resource) unload(e *entry, k Kind) {
	e.state[k] = StateUnloading
	switch k {
	case KindGeometry:
		r.removeCollider(e)
		if e.geom != nil {
			e.geom.Release()
			e.geom = nil
		}
	case KindTexture:
		if e.texture != nil {
			e.texture.Release()
			e.texture = nil
		}
	}
	e.state[k] = StateUnloaded
	r.chunkLog(e.pos).Debug("Chunk unloaded", zap.Stringer("kind", k))
}

// admit роздає вільні слоти чанкам з найвищим пріоритетом
func (r *Resource) admit() {
	for k := Kind(0); k < kindCount; k++ {
		for n := r.slots.free(k); n > 0; n-- {
			e := r.popBest(k)
			if e == nil {
				break
			}
			req := newLoadRequest()
			priority, reason := e.requests[k].Top()
			*req = loadRequest{kind: k, reason: reason, priority: priority, pos: e.pos, gen: e.gen}
			if !r.slots.install(req) {
				freeLoadRequest(req)
				r.enqueue(e, k)
				break
			}
			e.inFlight[k] = true
		}
	}
}

// popBest знімає з черги чанк з найвищим зведеним пріоритетом.
// При рівних виграє той, хто раніше став у чергу.
func (r *Resource) popBest(k Kind) *entry {
	q := r.pending[k]
	if len(q) == 0 {
		return nil
	}
	best, bestPriority := 0, q[0].requests[k].CumulativePriority()
	for i := 1; i < len(q); i++ {
		if p := q[i].requests[k].CumulativePriority(); p > bestPriority {
			best, bestPriority = i, p
		}
	}
	e := q[best]
	r.pending[k] = append(q[:best], q[best+1:]...)
	e.pending[k] = false
	return e
}

// Purge вивантажує все і забуває збої. Завантаження в польоті,
// які потік уже взяв, доїдуть зі старим поколінням і будуть викинуті.
func (r *Resource) Purge() {
	for _, req := range r.slots.dropUnclaimed() {
		freeLoadRequest(req)
	}
	for idx, e := range r.entries {
		for k := Kind(0); k < kindCount; k++ {
			if e.loaded(k) {
				r.unload(e, k)
			}
			e.state[k] = StateUnloaded
			e.pending[k], e.inFlight[k] = false, false
			e.failed[k] = nil
		}
		e.gen = r.nextGen()
		if e.idle() {
			delete(r.entries, idx)
		}
	}
	for k := range r.pending {
		r.pending[k] = nil
	}
	r.log.Info("Purged", zap.Int("entries", len(r.entries)))
}
