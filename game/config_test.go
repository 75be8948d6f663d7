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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadConfigTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
geometry-path = "world/geometry.tiles"
texture-path = "world/texture.tiles"
slot-capacity = 4
vertical-scale = 0.25
terrain-size = 2048.0
collision-tree-depth = 3
synchronous-load = false
frame-rate = 30

[tile-loading-limiter]
every = "10ms"
n = 8

[viewer-request-limiter]
every = "1s"
n = 64

[viewer]
split-distance = 2.5
max-level = 6
textures = false
`)
	c, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "world/geometry.tiles", c.GeometryPath)
	assert.Equal(t, 4, c.SlotCapacity)
	assert.Equal(t, 10*time.Millisecond, c.TileLoadingLimiter.Every.Duration)
	assert.Equal(t, 8, c.TileLoadingLimiter.N)
	assert.Equal(t, time.Second/30, c.FrameInterval())

	opts := c.Atlas()
	assert.Equal(t, 4, opts.SlotCapacity)
	assert.Equal(t, float32(0.25), opts.VerticalScale)
	assert.Equal(t, float32(2048), opts.TerrainSize)
	assert.Equal(t, 3, opts.CollisionTreeDepth)

	vo := c.ViewerOptions()
	assert.Equal(t, float32(2.5), vo.SplitDistance)
	assert.Equal(t, 6, vo.MaxLevel)
	assert.False(t, vo.Textures)
	require.NotNil(t, vo.Limiter)
	assert.Equal(t, 64, vo.Limiter.Burst())
}

func TestReadConfigDefaults(t *testing.T) {
	c, err := ReadConfig(writeFile(t, "config.toml", `geometry-path = "g.tiles"`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SlotCapacity, c.SlotCapacity)
	assert.Nil(t, c.TileLoadingLimiter.Limiter(), "zero limiter means unlimited")
	assert.True(t, c.Viewer.Textures)
}

func TestReadConfigUnknownKey(t *testing.T) {
	_, err := ReadConfig(writeFile(t, "config.toml", `
geometry-path = "g.tiles"
slot-capacityy = 2
`))
	var unknown errUnknownConfig
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, errUnknownConfig{"slot-capacityy"}, unknown)
}

func TestReadConfigYAML(t *testing.T) {
	c, err := ReadConfig(writeFile(t, "config.yaml", `
geometry-path: g.tiles
slot-capacity: 2
tile-loading-limiter:
  every: 250ms
  n: 2
viewer:
  split-distance: 3.5
`))
	require.NoError(t, err)
	assert.Equal(t, 2, c.SlotCapacity)
	assert.Equal(t, 250*time.Millisecond, c.TileLoadingLimiter.Every.Duration)
	assert.Equal(t, float32(3.5), c.Viewer.SplitDistance)

	_, err = ReadConfig(writeFile(t, "bad.yml", "geometry-path: g.tiles\nframe-rat: 3\n"))
	assert.Error(t, err)
}

func TestReadConfigValidation(t *testing.T) {
	_, err := ReadConfig(writeFile(t, "config.toml", `slot-capacity = 2`))
	assert.ErrorContains(t, err, "geometry-path")

	_, err = ReadConfig(writeFile(t, "config.toml", "geometry-path = \"g\"\nslot-capacity = 0\n"))
	assert.ErrorContains(t, err, "slot-capacity")
}
