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

package atlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
)

type fixedFocus [3]float32

func (f *fixedFocus) Focus() [3]float32 { return *f }

type recordingSink struct {
	loaded   map[qtree.Pos]bool
	unloaded int
}

func (s *recordingSink) ViewChunkLoad(pos qtree.Pos, p *chunk.Payload, _ Texture) {
	s.loaded[pos] = p != nil
}

func (s *recordingSink) ViewChunkUnload(pos qtree.Pos) {
	delete(s.loaded, pos)
	s.unloaded++
}

// area - частка площі кореня, яку покриває набір
func area(ps []qtree.Pos) float64 {
	var a float64
	for _, p := range ps {
		a += 1 / float64(uint64(1)<<(2*p.Level))
	}
	return a
}

func TestViewerRefinesNearFocus(t *testing.T) {
	src := newFakeSource(t, 3, false)
	r, _ := newTestResource(t, src, Options{Synchronous: true, TerrainSize: 100})
	focus := &fixedFocus{10, 10, 0}
	sink := &recordingSink{loaded: make(map[qtree.Pos]bool)}
	v := NewViewer(r, focus, sink, ViewerOptions{SplitDistance: 1.5})
	assert.Equal(t, 1, r.Owners())

	require.NoError(t, v.Update())
	// синхронний режим: все запитане вже готове, друге оновлення малює
	require.NoError(t, v.Update())

	drawn := v.Drawn()
	assert.Contains(t, drawn, qtree.Pos{Level: 2, Col: 0, Row: 0})
	assert.NotContains(t, drawn, qtree.Pos{})
	assert.InDelta(t, 1, area(drawn), 1e-9)
	assert.Len(t, sink.loaded, len(drawn))
	for pos, hasPayload := range sink.loaded {
		assert.True(t, hasPayload, "%v", pos)
	}
	assert.Equal(t, 1, r.RefCount(KindGeometry, qtree.Pos{}))

	// камера полетіла в протилежний кут
	*focus = fixedFocus{90, 90, 0}
	require.NoError(t, v.Update())
	r.Sync(1)
	require.NoError(t, v.Update())
	assert.Contains(t, v.Drawn(), qtree.Pos{Level: 2, Col: 3, Row: 3})
	assert.NotContains(t, v.Drawn(), qtree.Pos{Level: 2, Col: 0, Row: 0})
	assert.Equal(t, StateUnloaded, r.State(qtree.Pos{Level: 2, Col: 0, Row: 0}))
	assert.NotZero(t, sink.unloaded)

	require.NoError(t, v.Close())
	assert.Zero(t, r.RefCount(KindGeometry, qtree.Pos{}))
	assert.Empty(t, sink.loaded)
	assert.ErrorIs(t, v.Update(), ErrClosed)
}

func TestViewerDrawsParentUntilChildrenReady(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{Synchronous: true, TerrainSize: 100})
	r.IncOwnership() // тест теж власник, щоб Close в'юера не знищив ресурс
	// один з дітей кореня не завантажиться
	delete(src.tiles, tileKey{KindGeometry, qtree.Pos{Level: 1, Col: 1, Row: 1}})

	v := NewViewer(r, &fixedFocus{50, 50, 0}, nil, ViewerOptions{SplitDistance: 4})
	require.NoError(t, v.Update())
	require.NoError(t, v.Update())
	assert.Equal(t, []qtree.Pos{{}}, v.Drawn())
	require.NoError(t, v.Close())
	assert.Equal(t, 1, r.Owners())
}

func TestViewerMaxLevelAndLimiter(t *testing.T) {
	src := newFakeSource(t, 3, false)
	r, _ := newTestResource(t, src, Options{TerrainSize: 100})

	v := NewViewer(r, &fixedFocus{10, 10, 0}, nil, ViewerOptions{
		SplitDistance: 100,
		MaxLevel:      1,
		Limiter:       rate.NewLimiter(0, 1),
	})
	require.NoError(t, v.Update())
	// корінь завжди, плюс один новий чанк з обмежувача
	assert.Equal(t, 2, v.Wanted())
	for _, p := range leaves(3) {
		assert.Zero(t, r.RefCount(KindGeometry, p), "max level 1 must not reach %v", p)
	}
}
