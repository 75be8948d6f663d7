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

// Йоу, чат! Зараз розберемо конфігурацію!
// Конфіг читається з TOML, а якщо файл має розширення .yaml чи .yml -
// з YAML. Невідомі ключі - помилка, щоб одруківка не губилась мовчки.

package game

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"AtlasCore/atlas"
)

// Config - головна структура з налаштуваннями
type Config struct {
	// Контейнер геометрії, обов'язковий
	GeometryPath string `toml:"geometry-path" yaml:"geometry-path"`
	// Контейнер текстур, порожньо - без текстур
	TexturePath string `toml:"texture-path" yaml:"texture-path"`

	// Скільки завантажень одного типу можуть бути в польоті одночасно
	SlotCapacity int `toml:"slot-capacity" yaml:"slot-capacity"`
	// Масштаб висот вершин
	VerticalScale float32 `toml:"vertical-scale" yaml:"vertical-scale"`
	// Сторона кореневого чанка у світових одиницях
	TerrainSize float32 `toml:"terrain-size" yaml:"terrain-size"`
	// Глибина дерева колізій у листових чанках
	CollisionTreeDepth int `toml:"collision-tree-depth" yaml:"collision-tree-depth"`
	// Вантажити на головному потоці, без потоку завантаження
	SynchronousLoad bool `toml:"synchronous-load" yaml:"synchronous-load"`

	// Кадрів на секунду головного циклу
	FrameRate int `toml:"frame-rate" yaml:"frame-rate"`

	// TileLoadingLimiter - скільки тайлів можна прочитати з диска
	TileLoadingLimiter Limiter `toml:"tile-loading-limiter" yaml:"tile-loading-limiter"`
	// ViewerRequestLimiter - скільки нових чанків може попросити один в'юер
	ViewerRequestLimiter Limiter `toml:"viewer-request-limiter" yaml:"viewer-request-limiter"`

	Viewer ViewerConfig `toml:"viewer" yaml:"viewer"`
}

// ViewerConfig - налаштування LOD в'юера
type ViewerConfig struct {
	SplitDistance float32 `toml:"split-distance" yaml:"split-distance"`
	MaxLevel      int     `toml:"max-level" yaml:"max-level"`
	Textures      bool    `toml:"textures" yaml:"textures"`
}

// DefaultConfig - значення, поверх яких читається файл
func DefaultConfig() Config {
	return Config{
		SlotCapacity:  3,
		VerticalScale: 1,
		TerrainSize:   1024,
		FrameRate:     60,
		Viewer: ViewerConfig{
			SplitDistance: 2,
			Textures:      true,
		},
	}
}

// Atlas перетворює конфіг у налаштування ресурсу
func (c *Config) Atlas() atlas.Options {
	return atlas.Options{
		SlotCapacity:       c.SlotCapacity,
		VerticalScale:      c.VerticalScale,
		TerrainSize:        c.TerrainSize,
		CollisionTreeDepth: c.CollisionTreeDepth,
		Synchronous:        c.SynchronousLoad,
	}
}

// ViewerOptions - налаштування для нового в'юера, кожен зі своїм обмежувачем
func (c *Config) ViewerOptions() atlas.ViewerOptions {
	return atlas.ViewerOptions{
		SplitDistance: c.Viewer.SplitDistance,
		MaxLevel:      c.Viewer.MaxLevel,
		Textures:      c.Viewer.Textures,
		Limiter:       c.ViewerRequestLimiter.Limiter(),
	}
}

// FrameInterval - тривалість одного кадру
func (c *Config) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.FrameRate)
}

func (c *Config) validate() error {
	if c.GeometryPath == "" {
		return fmt.Errorf("geometry-path is required")
	}
	if c.SlotCapacity <= 0 {
		return fmt.Errorf("slot-capacity must be positive, got %d", c.SlotCapacity)
	}
	if c.TerrainSize <= 0 {
		return fmt.Errorf("terrain-size must be positive, got %v", c.TerrainSize)
	}
	return nil
}

// ReadConfig читає конфіг з файлу. Формат визначається за розширенням.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		meta, err := toml.Decode(string(data), &c)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			var err errUnknownConfig
			for _, key := range undecoded {
				err = append(err, key.String())
			}
			return Config{}, err
		}
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// errUnknownConfig - список невідомих ключів
type errUnknownConfig []string

func (e errUnknownConfig) Error() string {
	return "unknown config keys: [" + strings.Join(e, ", ") + "]"
}

// Limiter - не більше N дій кожні Every
type Limiter struct {
	Every duration `toml:"every" yaml:"every"`
	N     int      `toml:"n" yaml:"n"`
}

// Limiter перетворює налаштування в rate.Limiter.
// Нульовий N означає без обмежень і дає nil.
func (l *Limiter) Limiter() *rate.Limiter {
	if l.N <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(l.Every.Duration), l.N)
}

// duration - обгортка, щоб читати "5s" з конфігу
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
