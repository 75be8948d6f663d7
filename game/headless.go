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

// Йоу, чат! Рендерер без відеокарти. Він нічого не малює, але веде
// облік буферів, текстур і видимих чанків, тож демон і тести бачать,
// чи ресурс справді віддає все, що взяв.

package game

import (
	"fmt"
	"sync/atomic"

	"AtlasCore/atlas"
	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
)

// Headless - рендерер і споживач видимих чанків без графіки
type Headless struct {
	buffers  atomic.Int64
	bytes    atomic.Int64
	textures atomic.Int64
	visible  map[qtree.Pos]*chunk.Payload
}

func NewHeadless() *Headless {
	return &Headless{visible: make(map[qtree.Pos]*chunk.Payload)}
}

type headlessBuffer struct {
	h    *Headless
	size int64
	done atomic.Bool
}

func (b *headlessBuffer) Release() {
	if b.done.Swap(true) {
		return
	}
	b.h.buffers.Add(-1)
	b.h.bytes.Add(-b.size)
}

// CreateBuffer "завантажує" буфер, запам'ятовуючи лише розмір
func (h *Headless) CreateBuffer(kind chunk.BufferKind, data []byte) (chunk.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty %v buffer", kind)
	}
	h.buffers.Add(1)
	h.bytes.Add(int64(len(data)))
	return &headlessBuffer{h: h, size: int64(len(data))}, nil
}

type headlessTexture struct {
	h    *Headless
	done atomic.Bool
}

func (t *headlessTexture) Release() {
	if !t.done.Swap(true) {
		t.h.textures.Add(-1)
	}
}

// UploadTexture рахує текстуру
func (h *Headless) UploadTexture(pos qtree.Pos, data []byte) (atlas.Texture, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty texture for %v", pos)
	}
	h.textures.Add(1)
	return &headlessTexture{h: h}, nil
}

func (h *Headless) ViewChunkLoad(pos qtree.Pos, p *chunk.Payload, _ atlas.Texture) {
	h.visible[pos] = p
}

func (h *Headless) ViewChunkUnload(pos qtree.Pos) {
	delete(h.visible, pos)
}

// Buffers - живі буфери і їх сумарний розмір
func (h *Headless) Buffers() (n, bytes int64) { return h.buffers.Load(), h.bytes.Load() }

// Textures - живі текстури
func (h *Headless) Textures() int64 { return h.textures.Load() }

// Visible - скільки чанків зараз малюється
func (h *Headless) Visible() int { return len(h.visible) }
