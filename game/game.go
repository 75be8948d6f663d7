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
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"AtlasCore/atlas"
	"AtlasCore/atlas/chunk"
)

// Game тримає датасет, ресурс і в'юерів та крутить кадровий цикл
type Game struct {
	log *zap.Logger

	config   Config
	res      *atlas.Resource
	renderer *Headless

	tickLock sync.Mutex // кадр і зміни списку в'юерів не перетинаються
	viewers  viewerList
	frame    uint64
}

// NewGame відкриває датасет з конфігу і створює над ним ресурс
func NewGame(log *zap.Logger, config Config) (*Game, error) {
	dataset, err := atlas.OpenDataset(config.GeometryPath, config.TexturePath, config.TileLoadingLimiter.Limiter())
	if err != nil {
		return nil, err
	}
	renderer := NewHeadless()
	return newGame(log, config, dataset, renderer), nil
}

func newGame(log *zap.Logger, config Config, source atlas.TileSource, renderer *Headless) *Game {
	res := atlas.New(log, source, renderer, config.Atlas())
	// сама гра теж власник, щоб ресурс пережив відхід усіх в'юерів
	res.IncOwnership()
	log.Info("Atlas opened",
		zap.Int("treeDepth", res.TreeDepth()),
		zap.Bool("textures", res.HasTextures()),
		zap.Int("slotCapacity", res.Options().SlotCapacity),
		zap.Bool("synchronous", config.SynchronousLoad),
	)
	return &Game{
		log:      log.Named("game"),
		config:   config,
		res:      res,
		renderer: renderer,
		viewers:  newViewerList(),
	}
}

// Resource - ресурс гри, для запитів колізій
func (g *Game) Resource() *atlas.Resource { return g.res }

// Renderer - облік рендерера
func (g *Game) Renderer() *Headless { return g.renderer }

// AddViewer реєструє нову камеру
func (g *Game) AddViewer(source atlas.FocusSource) *atlas.Viewer {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	v := atlas.NewViewer(g.res, source, g.renderer, g.config.ViewerOptions())
	g.viewers.add(v)
	g.log.Info("Viewer join", zap.Stringer("id", v.ID()))
	return v
}

// RemoveViewer прибирає камеру і відкликає її запити
func (g *Game) RemoveViewer(v *atlas.Viewer) error {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	if !g.viewers.remove(v) {
		return nil
	}
	g.log.Info("Viewer left", zap.Stringer("id", v.ID()))
	return v.Close()
}

// Ground шукає висоту поверхні під точкою x,y серед резидентних чанків
func (g *Game) Ground(x, y float32) (float32, bool) {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	span := g.config.VerticalScale * 32768
	if span < 0 {
		span = -span
	}
	hit, ok := g.res.CastRay([3]float32{x, y, span}, [3]float32{x, y, -span})
	if !ok {
		return 0, false
	}
	return hit.Point[2], true
}

// Collide збирає полігони під боксом
func (g *Game) Collide(box chunk.Box, polys *chunk.PolyList) bool {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	return g.res.BuildCollisionInfo(box, false, true, nil, polys)
}

// Start запускає потік завантаження, він живе поки живий ctx
func (g *Game) Start(ctx context.Context) {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	g.res.StartLoader(ctx)
}

// Run запускає потік завантаження і крутить кадри, поки ctx живий
func (g *Game) Run(ctx context.Context) error {
	g.Start(ctx)
	err := g.tickLoop(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return errors.Join(err, g.Close())
}

// Warmup чекає, поки завантажиться все, що в'юери встигли попросити
func (g *Game) Warmup(ctx context.Context) error {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	if err := g.viewers.update(); err != nil {
		return err
	}
	if err := g.res.Precache(ctx); err != nil {
		return fmt.Errorf("precache: %w", err)
	}
	// ще раз, щоб в'юери побачили готові чанки
	return g.viewers.update()
}

// Close відпускає всіх в'юерів і свою частку ресурсу
func (g *Game) Close() error {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()
	err := g.viewers.closeAll()
	err = errors.Join(err, g.res.DecOwnership())
	g.log.Info("Game closed")
	return err
}
