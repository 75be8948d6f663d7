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

// Йоу, чат! А тут ми збираємо контейнер знизу вгору.
// Спочатку пишемо листя, потім кожен внутрішній рівень отримуємо
// з чотирьох дітей через даунсемплінг. Це інструментальний код,
// на гарячому шляху рантайму його немає.

package tilestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"AtlasCore/atlas/qtree"
)

// Downsampler будує тайл батька з тайлів чотирьох дітей.
// Відсутня дитина передається як nil.
type Downsampler func(children [4][]byte, tileSize int) ([]byte, error)

// Writer пише новий контейнер
type Writer struct {
	f *os.File

	version   Version
	treeDepth int
	tileSize  int

	offsets []uint32 // зміщення записаних тайлів
	lengths []uint32 // точні довжини, потрібні лише під час збирання
	cursor  int64    // куди писати наступний тайл
}

// Create створює файл і резервує місце під заголовок та таблицю
func Create(path string, version Version, treeDepth, tileSize int) (*Writer, error) {
	if err := validateShape(version, treeDepth, tileSize); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create tile store fail: %w", err)
	}
	n := qtree.NodeCount(treeDepth)
	w := &Writer{
		f:         f,
		version:   version,
		treeDepth: treeDepth,
		tileSize:  tileSize,
		offsets:   make([]uint32, n),
		lengths:   make([]uint32, n),
		cursor:    int64(headerSize) + int64(n)*4,
	}
	if err := w.writeTable(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// WriteTile дописує тайл вузла p в кінець файлу
func (w *Writer) WriteTile(p qtree.Pos, data []byte) error {
	if !p.Valid() || int(p.Level) >= w.treeDepth {
		return fmt.Errorf("%w: %v outside tree of depth %d", ErrTileMissing, p, w.treeDepth)
	}
	if len(data) == 0 {
		return fmt.Errorf("write tile %v: empty tile", p)
	}
	if w.cursor+int64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("write tile %v: container exceeds 4GiB", p)
	}
	if _, err := w.f.WriteAt(data, w.cursor); err != nil {
		return fmt.Errorf("write tile %v fail: %w", p, err)
	}
	idx := p.Index()
	w.offsets[idx] = uint32(w.cursor)
	w.lengths[idx] = uint32(len(data))
	w.cursor += int64(len(data))
	return nil
}

// WriteLeafTile пише тайл найглибшого рівня
func (w *Writer) WriteLeafTile(col, row uint32, data []byte) error {
	return w.WriteTile(qtree.Pos{Level: uint8(w.treeDepth - 1), Col: col, Row: row}, data)
}

func (w *Writer) readBack(p qtree.Pos) ([]byte, error) {
	idx := p.Index()
	if w.offsets[idx] == 0 {
		return nil, nil
	}
	buf := make([]byte, w.lengths[idx])
	if _, err := w.f.ReadAt(buf, int64(w.offsets[idx])); err != nil {
		return nil, fmt.Errorf("read back tile %v fail: %w", p, err)
	}
	return buf, nil
}

// GenerateInnerTiles заповнює всі внутрішні рівні, від передостаннього до кореня.
// Тайли одного рівня рахуються паралельно, а пишуться послідовно за індексом.
func (w *Writer) GenerateInnerTiles(ctx context.Context, downsample Downsampler) error {
	for level := w.treeDepth - 2; level >= 0; level-- {
		side := uint32(1) << uint(level)
		out := make([][]byte, side*side)

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.NumCPU())
		for i := range out {
			i := i
			p := qtree.Pos{Level: uint8(level), Col: uint32(i) % side, Row: uint32(i) / side}
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				var children [4][]byte
				present := false
				for j, c := range p.Children() {
					data, err := w.readBack(c)
					if err != nil {
						return err
					}
					children[j] = data
					present = present || data != nil
				}
				if !present {
					return nil
				}
				data, err := downsample(children, w.tileSize)
				if err != nil {
					return fmt.Errorf("downsample %v fail: %w", p, err)
				}
				out[i] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, data := range out {
			if data == nil {
				continue
			}
			p := qtree.Pos{Level: uint8(level), Col: uint32(i) % side, Row: uint32(i) / side}
			if err := w.WriteTile(p, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeTable() error {
	buf := make([]byte, headerSize+len(w.offsets)*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(w.version))
	binary.LittleEndian.PutUint32(buf[4:], uint32(w.treeDepth))
	binary.LittleEndian.PutUint32(buf[8:], uint32(w.tileSize))
	for i, off := range w.offsets {
		binary.LittleEndian.PutUint32(buf[headerSize+i*4:], off)
	}
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write offset table fail: %w", err)
	}
	return nil
}

// Finalize записує остаточну таблицю зміщень і закриває файл
func (w *Writer) Finalize() (errRet error) {
	defer func() {
		if err := w.f.Close(); errRet == nil && err != nil {
			errRet = fmt.Errorf("close tile store fail: %w", err)
		}
	}()
	if err := w.writeTable(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Merge пише в dst контейнер, де тайли overlay перекривають тайли base.
// Обидва контейнери мають бути однакової форми.
func Merge(dst string, base, overlay *Store) error {
	if base.version != overlay.version || base.treeDepth != overlay.treeDepth || base.tileSize != overlay.tileSize {
		return fmt.Errorf("%w: merge of %v/%d/%d with %v/%d/%d", ErrFormat,
			base.version, base.treeDepth, base.tileSize,
			overlay.version, overlay.treeDepth, overlay.tileSize)
	}
	w, err := Create(dst, base.version, base.treeDepth, base.tileSize)
	if err != nil {
		return err
	}
	// листя першими, як і при звичайному збиранні
	for i := len(base.offsets) - 1; i >= 0; i-- {
		p := qtree.PosOf(uint32(i))
		data, err := overlay.ReadTile(p)
		if errors.Is(err, ErrTileMissing) {
			data, err = base.ReadTile(p)
		}
		if errors.Is(err, ErrTileMissing) {
			continue
		}
		if err == nil {
			err = w.WriteTile(p, data)
		}
		if err != nil {
			_ = w.f.Close()
			return err
		}
	}
	return w.Finalize()
}

// BitmapDownsample - бокс-фільтр 2x2 для RGBA8 тайлів.
// Кожна дитина займає свою чверть батьківського тайла.
func BitmapDownsample(children [4][]byte, tileSize int) ([]byte, error) {
	want := tileSize * tileSize * 4
	for i, c := range children {
		if c != nil && len(c) != want {
			return nil, fmt.Errorf("%w: child %d has %d bytes, want %d", ErrFormat, i, len(c), want)
		}
	}
	out := make([]byte, want)
	half := tileSize / 2
	if half == 0 {
		half = 1
	}
	for y := 0; y < tileSize; y++ {
		for x := 0; x < tileSize; x++ {
			q := 0
			if x >= half {
				q |= 1
			}
			if y >= half {
				q |= 2
			}
			src := children[q]
			if src == nil {
				continue
			}
			sx, sy := (x%half)*2, (y%half)*2
			for ch := 0; ch < 4; ch++ {
				sum := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						px, py := min(sx+dx, tileSize-1), min(sy+dy, tileSize-1)
						sum += int(src[(py*tileSize+px)*4+ch])
					}
				}
				out[(y*tileSize+x)*4+ch] = byte(sum / 4)
			}
		}
	}
	return out, nil
}
