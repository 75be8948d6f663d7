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

// Йоу, чат! Кадровий цикл. Кожен кадр в'юери перераховують свої
// зрізи дерева, а потім ресурс робить свій Sync. Раз на секунду
// пишемо статистику, щоб було видно, як рухається черга.

package game

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (g *Game) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.config.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *Game) tick() {
	g.tickLock.Lock()
	defer g.tickLock.Unlock()

	if err := g.viewers.update(); err != nil {
		g.log.Error("Viewer update fail", zap.Error(err))
	}
	g.res.Sync(g.frame)

	if rate := uint64(max(g.config.FrameRate, 1)); g.frame%rate == 0 {
		n, bytes := g.renderer.Buffers()
		g.log.Debug("Frame stats",
			zap.Uint64("frame", g.frame),
			zap.Object("atlas", g.res.Stats()),
			zap.Int("viewers", g.viewers.len()),
			zap.Int("visible", g.renderer.Visible()),
			zap.Int64("buffers", n),
			zap.Int64("bufferBytes", bytes),
			zap.Int64("textures", g.renderer.Textures()),
		)
	}
	g.frame++
}
