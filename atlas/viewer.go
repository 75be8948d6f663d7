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

// Йоу, чат! Тут інтерфейси тих, хто дивиться на ландшафт.
// FocusSource каже, звідки дивимось, ChunkViewer отримує чанки,
// які треба малювати, і ті, що малювати вже не треба.

package atlas

import (
	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
)

// FocusSource - точка огляду, зазвичай камера
type FocusSource interface {
	Focus() [3]float32 // світові координати
}

// ChunkViewer - споживач набору чанків для малювання
type ChunkViewer interface {
	ViewChunkLoad(pos qtree.Pos, p *chunk.Payload, tex Texture) // чанк став видимим
	ViewChunkUnload(pos qtree.Pos)                              // чанк більше не малюється
}
