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
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
	"AtlasCore/atlas/tilestore"
)

const testCollisionDepth = 2

// slope - висота росте вздовж u від 0 до 4000
func slope(u, _ float64) int16 { return int16(u * 4000) }

func encodeChunk(t *testing.T, withCollision bool) []byte {
	t.Helper()
	src := chunk.GridSource(5, slope, nil)
	if withCollision {
		col, err := chunk.BuildCollision(src.Vertices, src.Indices, testCollisionDepth)
		require.NoError(t, err)
		src.Collision = col
	}
	var buf bytes.Buffer
	require.NoError(t, chunk.Encode(&buf, src))
	return buf.Bytes()
}

type tileKey struct {
	kind Kind
	pos  qtree.Pos
}

// fakeSource - джерело в пам'яті, що рахує читання
type fakeSource struct {
	depth int
	tiles map[tileKey][]byte
	gate  chan struct{} // якщо не nil, кожне читання чекає на нього

	mu     sync.Mutex
	reads  map[tileKey]int
	order  []qtree.Pos
	closed atomic.Int32
}

// newFakeSource кладе геометрію в кожен вузол, колізії тільки в листя
func newFakeSource(t *testing.T, depth int, textures bool) *fakeSource {
	s := &fakeSource{depth: depth, tiles: make(map[tileKey][]byte), reads: make(map[tileKey]int)}
	inner, leaf := encodeChunk(t, false), encodeChunk(t, true)
	for i := uint32(0); i < qtree.NodeCount(depth); i++ {
		p := qtree.PosOf(i)
		blob := inner
		if int(p.Level) == depth-1 {
			blob = leaf
		}
		s.tiles[tileKey{KindGeometry, p}] = blob
		if textures {
			s.tiles[tileKey{KindTexture, p}] = []byte("DDS texture")
		}
	}
	return s
}

func (s *fakeSource) TreeDepth() int { return s.depth }

func (s *fakeSource) HasTextures() bool {
	for k := range s.tiles {
		if k.kind == KindTexture {
			return true
		}
	}
	return false
}

func (s *fakeSource) ReadTile(ctx context.Context, kind Kind, pos qtree.Pos) ([]byte, error) {
	s.mu.Lock()
	s.reads[tileKey{kind, pos}]++
	s.order = append(s.order, pos)
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := s.tiles[tileKey{kind, pos}]
	if !ok {
		return nil, tilestore.ErrTileMissing
	}
	return data, nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeSource) readCount(kind Kind, pos qtree.Pos) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[tileKey{kind, pos}]
}

func (s *fakeSource) readOrder() []qtree.Pos {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]qtree.Pos(nil), s.order...)
}

// fakeRenderer рахує живі буфери і текстури
type fakeRenderer struct {
	buffers  atomic.Int64
	textures atomic.Int64
}

type fakeBuffer struct{ n *atomic.Int64 }

func (b fakeBuffer) Release() { b.n.Add(-1) }

func (r *fakeRenderer) CreateBuffer(chunk.BufferKind, []byte) (chunk.Buffer, error) {
	r.buffers.Add(1)
	return fakeBuffer{&r.buffers}, nil
}

func (r *fakeRenderer) UploadTexture(qtree.Pos, []byte) (Texture, error) {
	r.textures.Add(1)
	return fakeBuffer{&r.textures}, nil
}

func newTestResource(t *testing.T, src TileSource, opts Options) (*Resource, *fakeRenderer) {
	t.Helper()
	if opts.CollisionTreeDepth == 0 {
		opts.CollisionTreeDepth = testCollisionDepth
	}
	if opts.VerticalScale == 0 {
		opts.VerticalScale = 0.5
	}
	rr := &fakeRenderer{}
	r := New(zaptest.NewLogger(t), src, rr, opts)
	t.Cleanup(func() { _ = r.Close() })
	return r, rr
}

func precache(t *testing.T, r *Resource) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Precache(ctx))
}

func leaves(depth int) []qtree.Pos {
	side := uint32(1) << (depth - 1)
	var out []qtree.Pos
	for row := uint32(0); row < side; row++ {
		for col := uint32(0); col < side; col++ {
			out = append(out, qtree.Pos{Level: uint8(depth - 1), Col: col, Row: row})
		}
	}
	return out
}

func TestSlotCapacityBoundsInFlight(t *testing.T) {
	src := newFakeSource(t, 3, false)
	src.gate = make(chan struct{})
	r, rr := newTestResource(t, src, Options{SlotCapacity: 2})
	r.StartLoader(context.Background())

	who := NewRequester()
	want := leaves(3)[:10]
	for i, p := range want {
		require.NoError(t, r.RequestGeomLoad(p, who, float32(i+1), ReasonRender))
	}

	r.Sync(1)
	st := r.Stats()
	assert.Equal(t, 2, st.InFlight[KindGeometry])
	assert.Equal(t, 8, st.Pending[KindGeometry])
	r.Sync(1) // той самий кадр нічого не змінює
	assert.Equal(t, st, r.Stats())

	close(src.gate)
	precache(t, r)
	for _, p := range want {
		assert.Equal(t, StatePrepared, r.State(p), "%v", p)
		assert.Equal(t, 1, src.readCount(KindGeometry, p), "%v", p)
	}
	assert.EqualValues(t, 2*len(want), rr.buffers.Load())
	assert.Equal(t, len(want), r.Colliders())
}

func TestSecondRequesterSharesLoad(t *testing.T) {
	src := newFakeSource(t, 3, false)
	src.gate = make(chan struct{})
	r, _ := newTestResource(t, src, Options{})
	r.StartLoader(context.Background())

	pos := qtree.Pos{Level: 2, Col: 1, Row: 1}
	a, b := NewRequester(), NewRequester()
	require.NoError(t, r.RequestGeomLoad(pos, a, 10, ReasonRender))
	r.Sync(1)
	require.Equal(t, 1, r.Stats().InFlight[KindGeometry])

	require.NoError(t, r.RequestGeomLoad(pos, b, 3, ReasonCollision))
	r.Sync(2)
	assert.Equal(t, float32(10), r.Priority(KindGeometry, pos))
	assert.Equal(t, 2, r.RefCount(KindGeometry, pos))
	assert.Equal(t, 1, r.Stats().InFlight[KindGeometry])
	assert.Equal(t, 0, r.Stats().Pending[KindGeometry])

	close(src.gate)
	precache(t, r)
	assert.Equal(t, StatePrepared, r.State(pos))
	assert.Equal(t, 1, src.readCount(KindGeometry, pos))

	// перший пішов, другий тримає
	r.CancelGeomLoad(pos, a, ReasonRender)
	r.Sync(3)
	assert.Equal(t, StatePrepared, r.State(pos))
	assert.Equal(t, float32(3), r.Priority(KindGeometry, pos))
}

func TestHighestPriorityAdmittedFirst(t *testing.T) {
	src := newFakeSource(t, 3, false)
	r, _ := newTestResource(t, src, Options{SlotCapacity: 1})
	r.StartLoader(context.Background())

	who := NewRequester()
	low := qtree.Pos{Level: 2, Col: 0, Row: 0}
	first := qtree.Pos{Level: 2, Col: 1, Row: 0}
	tie := qtree.Pos{Level: 2, Col: 2, Row: 0}
	require.NoError(t, r.RequestGeomLoad(low, who, 1, ReasonPrefetch))
	require.NoError(t, r.RequestGeomLoad(first, who, 5, ReasonRender))
	require.NoError(t, r.RequestGeomLoad(tie, who, 5, ReasonRender))

	precache(t, r)
	assert.Equal(t, []qtree.Pos{first, tie, low}, src.readOrder())
}

func TestMissingTileMarksFailed(t *testing.T) {
	src := newFakeSource(t, 2, false)
	pos := qtree.Pos{Level: 1, Col: 1, Row: 0}
	delete(src.tiles, tileKey{KindGeometry, pos})
	r, _ := newTestResource(t, src, Options{})
	r.StartLoader(context.Background())

	who := NewRequester()
	require.NoError(t, r.RequestGeomLoad(pos, who, 1, ReasonRender))
	precache(t, r)

	assert.ErrorIs(t, r.Failure(KindGeometry, pos), tilestore.ErrTileMissing)
	assert.Equal(t, StateUnloaded, r.State(pos))
	assert.Equal(t, 1, r.Stats().Failed)

	// повторний запит не вантажить знову
	err := r.RequestGeomLoad(pos, who, 2, ReasonRender)
	assert.ErrorIs(t, err, ErrChunkFailed)
	precache(t, r)
	assert.Equal(t, 1, src.readCount(KindGeometry, pos))

	// Purge забуває збій
	r.Purge()
	assert.NoError(t, r.Failure(KindGeometry, pos))
	require.NoError(t, r.RequestGeomLoad(pos, who, 2, ReasonRender))
	precache(t, r)
	assert.Equal(t, 2, src.readCount(KindGeometry, pos))
}

func TestCorruptChunkMarksFailed(t *testing.T) {
	src := newFakeSource(t, 2, false)
	pos := qtree.Pos{Level: 1, Col: 0, Row: 1}
	bad := bytes.Clone(src.tiles[tileKey{KindGeometry, pos}])
	bad[0] ^= 0xFF
	src.tiles[tileKey{KindGeometry, pos}] = bad
	r, rr := newTestResource(t, src, Options{})
	r.StartLoader(context.Background())

	require.NoError(t, r.RequestGeomLoad(pos, NewRequester(), 1, ReasonRender))
	precache(t, r)
	assert.ErrorIs(t, r.Failure(KindGeometry, pos), chunk.ErrFormat)
	assert.Zero(t, rr.buffers.Load())
}

func TestSynchronousLoad(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{Synchronous: true})

	pos := qtree.Pos{Level: 1, Col: 1, Row: 1}
	require.NoError(t, r.RequestGeomLoad(pos, NewRequester(), 1, ReasonCollision))
	assert.Equal(t, StatePrepared, r.State(pos))
	assert.NotNil(t, r.Payload(pos))
	assert.Zero(t, r.Stats().InFlight[KindGeometry])
	assert.NoError(t, r.Precache(context.Background()))

	delete(src.tiles, tileKey{KindGeometry, qtree.Pos{}})
	err := r.RequestGeomLoad(qtree.Pos{}, NewRequester(), 1, ReasonRender)
	assert.ErrorIs(t, err, ErrChunkFailed)
	assert.ErrorIs(t, err, tilestore.ErrTileMissing)
}

func TestEvictReleasesUnreferenced(t *testing.T) {
	src := newFakeSource(t, 2, true)
	r, rr := newTestResource(t, src, Options{Synchronous: true})

	pos := qtree.Pos{Level: 1, Col: 0, Row: 0}
	who := NewRequester()
	require.NoError(t, r.RequestGeomLoad(pos, who, 1, ReasonRender))
	require.NoError(t, r.RequestTexLoad(pos, who, 1, ReasonRender))
	assert.Equal(t, StateTextured, r.State(pos))
	assert.NotNil(t, r.Texture(pos))
	assert.Equal(t, 1, r.Colliders())

	r.CancelAll(who)
	r.Sync(1)
	assert.Equal(t, StateUnloaded, r.State(pos))
	assert.Zero(t, rr.buffers.Load())
	assert.Zero(t, rr.textures.Load())
	assert.Zero(t, r.Colliders())
	assert.Zero(t, r.Stats().Entries)
}

func TestCancelDropsPending(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{})

	pos := qtree.Pos{Level: 1, Col: 1, Row: 0}
	who := NewRequester()
	require.NoError(t, r.RequestGeomLoad(pos, who, 1, ReasonRender))
	assert.Equal(t, StateGeomRequested, r.State(pos))
	assert.Equal(t, 1, r.Stats().Pending[KindGeometry])

	r.CancelGeomLoad(pos, NewRequester(), ReasonRender) // чужий запитувач нічого не знімає
	assert.Equal(t, 1, r.Stats().Pending[KindGeometry])

	r.CancelGeomLoad(pos, who, ReasonRender)
	assert.Equal(t, StateUnloaded, r.State(pos))
	assert.Zero(t, r.Stats().Pending[KindGeometry])
	r.Sync(1)
	assert.Zero(t, r.Stats().Entries)
}

func TestPurgeDiscardsInFlight(t *testing.T) {
	src := newFakeSource(t, 2, false)
	src.gate = make(chan struct{})
	r, rr := newTestResource(t, src, Options{SlotCapacity: 2})
	r.StartLoader(context.Background())

	who := NewRequester()
	for _, p := range leaves(2) {
		require.NoError(t, r.RequestGeomLoad(p, who, 1, ReasonRender))
	}
	r.Sync(1)
	require.Equal(t, 2, r.Stats().InFlight[KindGeometry])

	r.Purge()
	close(src.gate)
	precache(t, r)
	for _, p := range leaves(2) {
		assert.Equal(t, StateUnloaded, r.State(p))
	}
	assert.Zero(t, rr.buffers.Load())
}

func TestOwnershipTeardown(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{})
	r.StartLoader(context.Background())

	r.IncOwnership()
	r.IncOwnership()
	require.NoError(t, r.DecOwnership())
	assert.NoError(t, r.RequestGeomLoad(qtree.Pos{}, NewRequester(), 1, ReasonRender))
	assert.Zero(t, src.closed.Load())

	require.NoError(t, r.DecOwnership())
	assert.EqualValues(t, 1, src.closed.Load())
	assert.ErrorIs(t, r.RequestGeomLoad(qtree.Pos{}, NewRequester(), 1, ReasonRender), ErrClosed)
	assert.ErrorIs(t, r.Precache(context.Background()), ErrClosed)
}

func TestRequestValidation(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{})

	err := r.RequestGeomLoad(qtree.Pos{Level: 2}, NewRequester(), 1, ReasonRender)
	assert.ErrorIs(t, err, ErrInvalidChunk)
	err = r.RequestGeomLoad(qtree.Pos{Level: 1, Col: 2}, NewRequester(), 1, ReasonRender)
	assert.ErrorIs(t, err, ErrInvalidChunk)
	err = r.RequestTexLoad(qtree.Pos{}, NewRequester(), 1, ReasonRender)
	assert.ErrorIs(t, err, ErrNoTextures)
}

func TestPrecacheNeedsLoader(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{})
	require.NoError(t, r.RequestGeomLoad(qtree.Pos{}, NewRequester(), 1, ReasonPrecache))
	assert.ErrorIs(t, r.Precache(context.Background()), ErrLoaderStopped)
}

func TestWorldCollision(t *testing.T) {
	src := newFakeSource(t, 2, false)
	r, _ := newTestResource(t, src, Options{Synchronous: true, TerrainSize: 100})

	pos := qtree.Pos{Level: 1, Col: 1, Row: 0}
	require.NoError(t, r.RequestGeomLoad(pos, NewRequester(), 1, ReasonCollision))
	require.Equal(t, 1, r.Colliders())

	// чанк (1,0) покриває x з [50,100], y з [0,50]; u=0.54 дає висоту 2160*0.5
	hit, ok := r.CastRay([3]float32{77, 21, 5000}, [3]float32{77, 21, -5000})
	require.True(t, ok)
	assert.InDelta(t, 77, hit.Point[0], 1e-2)
	assert.InDelta(t, 21, hit.Point[1], 1e-2)
	assert.InDelta(t, 1080, hit.Point[2], 2)
	assert.Greater(t, hit.Normal[2], float32(0))

	_, ok = r.CastRay([3]float32{25, 25, 5000}, [3]float32{25, 25, -5000})
	assert.False(t, ok, "chunk (0,0) is not resident")

	var polys chunk.PolyList
	var ws chunk.WorkingSet
	box := chunk.Box{Min: [3]float32{70, 20, 0}, Max: [3]float32{80, 30, 2000}}
	require.True(t, r.BuildCollisionInfo(box, true, true, &ws, &polys))
	require.NotEmpty(t, polys.Polys)
	for _, p := range polys.Polys {
		for _, v := range p.Verts {
			assert.GreaterOrEqual(t, v[0], float32(50))
			assert.LessOrEqual(t, v[1], float32(50))
		}
	}
	n := len(ws.Convexes)
	assert.NotZero(t, n)
	// повторний запит не додає вже відомі фічі
	assert.False(t, r.BuildCollisionInfo(box, true, false, &ws, nil))
	assert.Len(t, ws.Convexes, n)
}
