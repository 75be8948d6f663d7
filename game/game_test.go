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
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
	"AtlasCore/atlas/tilestore"
)

// writeDataset пише рівний ландшафт на висоті 1000 з колізіями в листі
func writeDataset(t *testing.T, depth int) (geom, tex string) {
	t.Helper()
	dir := t.TempDir()
	geom, tex = filepath.Join(dir, "geometry.tiles"), filepath.Join(dir, "texture.tiles")

	gw, err := tilestore.Create(geom, tilestore.Bitmap, depth, 32)
	require.NoError(t, err)
	for i := int(qtree.NodeCount(depth)) - 1; i >= 0; i-- {
		p := qtree.PosOf(uint32(i))
		src := chunk.GridSource(5, func(u, v float64) int16 { return 1000 }, nil)
		if int(p.Level) == depth-1 {
			src.Collision, err = chunk.BuildCollision(src.Vertices, src.Indices, 2)
			require.NoError(t, err)
		}
		var buf bytes.Buffer
		require.NoError(t, chunk.Encode(&buf, src))
		require.NoError(t, gw.WriteTile(p, buf.Bytes()))
	}
	require.NoError(t, gw.Finalize())

	const tileSize = 8
	tw, err := tilestore.Create(tex, tilestore.Bitmap, depth, tileSize)
	require.NoError(t, err)
	side := uint32(1) << (depth - 1)
	for row := uint32(0); row < side; row++ {
		for col := uint32(0); col < side; col++ {
			tile := bytes.Repeat([]byte{byte(col * 40), byte(row * 40), 0, 255}, tileSize*tileSize)
			require.NoError(t, tw.WriteLeafTile(col, row, tile))
		}
	}
	require.NoError(t, tw.GenerateInnerTiles(context.Background(), tilestore.BitmapDownsample))
	require.NoError(t, tw.Finalize())
	return geom, tex
}

func testConfig(geom, tex string) Config {
	c := DefaultConfig()
	c.GeometryPath, c.TexturePath = geom, tex
	c.TerrainSize = 100
	c.CollisionTreeDepth = 2
	c.Viewer.SplitDistance = 2
	return c
}

func TestGameWarmupAndGround(t *testing.T) {
	geom, tex := writeDataset(t, 2)
	g, err := NewGame(zaptest.NewLogger(t), testConfig(geom, tex))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Start(ctx)

	// точка всередині клітинки сітки, не на ребрі трикутника
	camera := &Orbit{Center: [2]float32{31, 72}, Altitude: 10}
	camera.Advance(0)
	v := g.AddViewer(camera)
	require.NoError(t, g.Warmup(ctx))

	st := g.Resource().Stats()
	assert.Equal(t, 5, st.Prepared)
	assert.Equal(t, 5, st.Textured)
	assert.Zero(t, st.Failed)
	assert.Equal(t, 4, g.Renderer().Visible())
	assert.EqualValues(t, 5, g.Renderer().Textures())

	h, ok := g.Ground(31, 72)
	require.True(t, ok)
	assert.InDelta(t, 1000, h, 1e-2)

	var polys chunk.PolyList
	assert.True(t, g.Collide(chunk.Box{Min: [3]float32{20, 20, 900}, Max: [3]float32{30, 30, 1100}}, &polys))
	assert.NotEmpty(t, polys.Polys)

	// камера стежить за поверхнею
	camera.Advance(time.Second)
	assert.InDelta(t, 1010, camera.Focus()[2], 1e-2)

	g.tick()
	g.tick()
	assert.EqualValues(t, 2, g.frame)

	require.NoError(t, g.RemoveViewer(v))
	g.tick()
	n, bytes := g.Renderer().Buffers()
	assert.Zero(t, n)
	assert.Zero(t, bytes)
	assert.Zero(t, g.Renderer().Textures())

	require.NoError(t, g.Close())
	assert.Equal(t, 0, g.Resource().Owners())
}

func TestGameRunStopsOnCancel(t *testing.T) {
	geom, _ := writeDataset(t, 2)
	c := testConfig(geom, "")
	c.FrameRate = 200
	g, err := NewGame(zaptest.NewLogger(t), c)
	require.NoError(t, err)

	camera := &Orbit{Center: [2]float32{50, 50}, Radius: 10, Altitude: 10, Speed: 1}
	camera.Advance(0)
	g.AddViewer(camera)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Run(ctx))
	assert.NotZero(t, g.frame)
	assert.Zero(t, g.Resource().Owners())
}
