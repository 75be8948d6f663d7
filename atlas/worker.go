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
	"time"

	"go.uber.org/zap"

	"AtlasCore/atlas/chunk"
)

// loaderThread бере запити зі слотів, читає і декодує, здає назад.
// Таблицю чанків не чіпає взагалі.
type loaderThread struct {
	log    *zap.Logger
	slots  *slots
	source TileSource
	opts   chunk.Options
}

func (lt *loaderThread) run(ctx context.Context) error {
	lt.log.Info("Loader thread started")
	defer lt.log.Info("Loader thread stopped")
	for {
		req, i, ok := lt.slots.claim()
		if !ok {
			return nil
		}
		start := time.Now()
		loadInto(ctx, lt.source, lt.opts, req)
		if ce := lt.log.Check(zap.DebugLevel, "Chunk loaded"); ce != nil {
			ce.Write(
				zap.Stringer("kind", req.kind),
				zap.Stringer("pos", req.pos),
				zap.Stringer("reason", req.reason),
				zap.Float32("priority", req.priority),
				zap.Duration("took", time.Since(start)),
				zap.Error(req.err),
			)
		}
		lt.slots.publish(i, req)
	}
}

// loadInto заповнює результат запиту. Помилка йде в req.err,
// головний потік сам вирішить що з нею робити.
func loadInto(ctx context.Context, source TileSource, opts chunk.Options, req *loadRequest) {
	data, err := source.ReadTile(ctx, req.kind, req.pos)
	if err != nil {
		req.err = err
		return
	}
	switch req.kind {
	case KindGeometry:
		req.geom, req.err = chunk.Decode(bytes.NewReader(data), opts)
	case KindTexture:
		req.tex = data
	}
}
