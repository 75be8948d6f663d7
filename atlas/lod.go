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

// Йоу, чат! Тут в'юер, який вирішує які чанки потрібні камері.
// Від кореня спускаємось вниз і ділимо чанк, поки камера ближче,
// ніж SplitDistance його сторін. Кожен відвіданий чанк запитується,
// ближчі і дрібніші з вищим пріоритетом. Нові запити йдуть через
// обмежувач, щоб різкий політ камери не завалив чергу.

package atlas

import (
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"AtlasCore/atlas/qtree"
)

// ViewerOptions - налаштування в'юера
type ViewerOptions struct {
	SplitDistance float32       // ділимо чанк, коли відстань менша за стільки сторін
	MaxLevel      int           // найглибший рівень, 0 - до листя
	Textures      bool          // просити ще й текстури
	Limiter       *rate.Limiter // нових запитів за секунду, nil - без обмежень
}

// Viewer - запитувач чанків для однієї камери
type Viewer struct {
	FocusSource
	id   Requester
	res  *Resource
	opts ViewerOptions
	log  *zap.Logger
	sink ChunkViewer

	wanted  map[qtree.Pos]float32 // активні запити і їх пріоритет
	desired map[qtree.Pos]float32 // перераховується кожне Update
	order   []qtree.Pos
	drawn   map[qtree.Pos]struct{}
	closed  bool
}

// NewViewer створює в'юер і бере частку володіння ресурсом.
// sink може бути nil.
func NewViewer(res *Resource, source FocusSource, sink ChunkViewer, opts ViewerOptions) *Viewer {
	if opts.SplitDistance <= 0 {
		opts.SplitDistance = 2
	}
	res.IncOwnership()
	id := NewRequester()
	return &Viewer{
		FocusSource: source,
		id:          id,
		res:         res,
		opts:        opts,
		log:         res.log.Named("viewer").With(zap.Stringer("id", id)),
		sink:        sink,
		wanted:      make(map[qtree.Pos]float32),
		desired:     make(map[qtree.Pos]float32),
		drawn:       make(map[qtree.Pos]struct{}),
	}
}

// ID - ідентичність в'юера в реєстрах запитів
func (v *Viewer) ID() Requester { return v.id }

// Wanted - кількість чанків, які в'юер зараз тримає
func (v *Viewer) Wanted() int { return len(v.wanted) }

// Drawn повертає поточний набір чанків для малювання
func (v *Viewer) Drawn() []qtree.Pos {
	out := make([]qtree.Pos, 0, len(v.drawn))
	for pos := range v.drawn {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Update перераховує зріз дерева під поточний фокус, оновлює запити
// і повідомляє sink про зміни набору для малювання
func (v *Viewer) Update() error {
	if v.closed {
		return ErrClosed
	}
	focus := v.Focus()
	clear(v.desired)
	draw, _ := v.walk(qtree.Pos{}, focus)

	// більше не потрібні
	for pos := range v.wanted {
		if _, ok := v.desired[pos]; !ok {
			v.cancel(pos)
			delete(v.wanted, pos)
		}
	}

	v.order = v.order[:0]
	for pos := range v.desired {
		v.order = append(v.order, pos)
	}
	sort.Slice(v.order, func(i, j int) bool {
		return v.desired[v.order[i]] > v.desired[v.order[j]]
	})
	for _, pos := range v.order {
		priority := v.desired[pos]
		_, known := v.wanted[pos]
		// корінь потрібен завжди, решта нових - через обмежувач
		if !known && pos.Level > 0 && v.opts.Limiter != nil && !v.opts.Limiter.Allow() {
			continue
		}
		if err := v.request(pos, priority); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			v.log.Debug("Request rejected", zap.Stringer("pos", pos), zap.Error(err))
		}
		v.wanted[pos] = priority
	}

	v.publish(draw)
	return nil
}

// walk спускається від pos і повертає набір для малювання під ним.
// complete=false означає, що частина площі поки без готової геометрії.
func (v *Viewer) walk(pos qtree.Pos, focus [3]float32) (draw []qtree.Pos, complete bool) {
	x, y, size := v.res.ChunkFrame(pos)
	dx, dy := focus[0]-(x+size/2), focus[1]-(y+size/2)
	d := float32(math.Sqrt(float64(dx*dx + dy*dy + focus[2]*focus[2])))
	v.desired[pos] = float32(pos.Level+1) / (1 + d/size)

	ready := v.res.Payload(pos) != nil
	if !v.split(pos, d, size) {
		if ready {
			return []qtree.Pos{pos}, true
		}
		return nil, false
	}

	complete = true
	for _, child := range pos.Children() {
		sub, ok := v.walk(child, focus)
		draw = append(draw, sub...)
		complete = complete && ok
	}
	if !complete && ready {
		// діти ще не всі готові, малюємо батька цілим
		return []qtree.Pos{pos}, true
	}
	return draw, complete
}

func (v *Viewer) split(pos qtree.Pos, d, size float32) bool {
	if int(pos.Level)+1 >= v.res.TreeDepth() {
		return false
	}
	if v.opts.MaxLevel > 0 && int(pos.Level) >= v.opts.MaxLevel {
		return false
	}
	return d < v.opts.SplitDistance*size
}

func (v *Viewer) request(pos qtree.Pos, priority float32) error {
	err := v.res.RequestGeomLoad(pos, v.id, priority, ReasonRender)
	if v.opts.Textures && v.res.HasTextures() {
		err = errors.Join(err, v.res.RequestTexLoad(pos, v.id, priority, ReasonRender))
	}
	return err
}

func (v *Viewer) cancel(pos qtree.Pos) {
	v.res.CancelGeomLoad(pos, v.id, ReasonRender)
	if v.opts.Textures && v.res.HasTextures() {
		v.res.CancelTexLoad(pos, v.id, ReasonRender)
	}
}

func (v *Viewer) publish(draw []qtree.Pos) {
	next := make(map[qtree.Pos]struct{}, len(draw))
	for _, pos := range draw {
		next[pos] = struct{}{}
	}
	for pos := range v.drawn {
		if _, ok := next[pos]; !ok && v.sink != nil {
			v.sink.ViewChunkUnload(pos)
		}
	}
	for pos := range next {
		if _, ok := v.drawn[pos]; !ok && v.sink != nil {
			v.sink.ViewChunkLoad(pos, v.res.Payload(pos), v.res.Texture(pos))
		}
	}
	v.drawn = next
}

// Close відкликає всі запити і віддає частку володіння
func (v *Viewer) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	for pos := range v.drawn {
		if v.sink != nil {
			v.sink.ViewChunkUnload(pos)
		}
	}
	clear(v.drawn)
	clear(v.wanted)
	v.res.CancelAll(v.id)
	return v.res.DecOwnership()
}
