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

// Йоу, чат! Це серце системи - ресурс, що стрімить чанки квадродерева.
// Він тримає таблицю чанків, зводить запити різних запитувачів в один
// пріоритет, роздає обмежені слоти потоку завантаження і забирає готові
// результати раз на кадр. Усе, крім слотів, змінюється лише з головного потоку.

package atlas

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
)

var (
	// ErrClosed - ресурс уже знесено
	ErrClosed = errors.New("atlas: resource closed")
	// ErrNoTextures - у датасету немає контейнера текстур
	ErrNoTextures = errors.New("atlas: dataset has no textures")
	// ErrChunkFailed - чанк не завантажився і повторно не пробується
	ErrChunkFailed = errors.New("atlas: chunk failed to load")
	// ErrInvalidChunk - позиція поза деревом датасету
	ErrInvalidChunk = errors.New("atlas: chunk outside dataset")
	// ErrLoaderStopped - потік завантаження не запущено, чекати нема на що
	ErrLoaderStopped = errors.New("atlas: loader is not running")
)

// State - стан чанка в життєвому циклі
type State uint8

const (
	StateUnloaded State = iota
	StateGeomRequested
	StateGeomLoaded
	StatePrepared
	StateTexRequested
	StateTexLoaded
	StateTextured
	StateUnloading
)

var stateNames = [...]string{
	"unloaded", "geom-requested", "geom-loaded", "prepared",
	"tex-requested", "tex-loaded", "textured", "unloading",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func requestedState(k Kind) State {
	if k == KindGeometry {
		return StateGeomRequested
	}
	return StateTexRequested
}

func loadedState(k Kind) State {
	if k == KindGeometry {
		return StateGeomLoaded
	}
	return StateTexLoaded
}

func readyState(k Kind) State {
	if k == KindGeometry {
		return StatePrepared
	}
	return StateTextured
}

// Texture - текстура, якою володіє рендерер
type Texture interface {
	Release()
}

// Renderer - те, що нам треба від рендерера: буфери і завантаження текстур
type Renderer interface {
	chunk.BufferFactory
	UploadTexture(pos qtree.Pos, data []byte) (Texture, error)
}

// Options - налаштування ресурсу
type Options struct {
	SlotCapacity       int     // слотів на кожен тип даних
	VerticalScale      float32 // масштаб висот
	TerrainSize        float32 // сторона кореневого чанка у світових одиницях
	CollisionTreeDepth int     // глибина дерева колізій листових чанків
	Synchronous        bool    // вантажити на викликаючому потоці, без слотів
}

func (o Options) withDefaults() Options {
	if o.SlotCapacity <= 0 {
		o.SlotCapacity = 3
	}
	if o.VerticalScale == 0 {
		o.VerticalScale = 1
	}
	if o.TerrainSize <= 0 {
		o.TerrainSize = 1
	}
	return o
}

func (o Options) chunkOptions() chunk.Options {
	return chunk.Options{VerticalScale: o.VerticalScale, CollisionTreeDepth: o.CollisionTreeDepth}
}

// entry - запис таблиці чанків, створюється при першому запиті
type entry struct {
	pos qtree.Pos
	gen uint64 // покоління, результати зі старим поколінням викидаються

	state    [kindCount]State
	requests [kindCount]*RequestRegistry
	pending  [kindCount]bool  // чекає вільного слота
	inFlight [kindCount]bool  // стоїть у слоті
	failed   [kindCount]error // остання помилка, не пробуємо знову до Purge

	geom    *chunk.Payload // є тільки у стані Prepared
	texture Texture        // є тільки у стані Textured
	colNode *chunkNode     // вузол у дереві колізій
}

// State - зведений стан: геометрія, а після Prepared - стан текстури
func (e *entry) State() State {
	g := e.state[KindGeometry]
	if g != StatePrepared {
		return g
	}
	switch t := e.state[KindTexture]; t {
	case StateTexRequested, StateTexLoaded, StateTextured:
		return t
	}
	return StatePrepared
}

func (e *entry) loaded(k Kind) bool {
	s := e.state[k]
	return s == loadedState(k) || s == readyState(k)
}

// idle - запис нічого не тримає і його можна викинути з таблиці
func (e *entry) idle() bool {
	for k := Kind(0); k < kindCount; k++ {
		if e.requests[k].RefCount() > 0 || e.state[k] != StateUnloaded ||
			e.pending[k] || e.inFlight[k] || e.failed[k] != nil {
			return false
		}
	}
	return true
}

// Resource - стрімінговий ресурс одного датасету.
// Методи не потокобезпечні: їх кличе тільки головний потік.
type Resource struct {
	log      *zap.Logger
	opts     Options
	source   TileSource
	renderer Renderer

	entries map[uint32]*entry   // таблиця чанків за лінійним індексом
	pending [kindCount][]*entry // чекають слота, порядок надходження
	slots   *slots              // спільне з потоком завантаження
	gen     uint64

	group  *errgroup.Group
	cancel context.CancelFunc

	lastSyncedFrame uint64
	synced          bool

	owners int
	closed bool

	collision chunkTree // резидентні чанки з колізіями
}

// New створює ресурс. Потік завантаження треба запустити через StartLoader.
func New(logger *zap.Logger, source TileSource, renderer Renderer, opts Options) *Resource {
	opts = opts.withDefaults()
	return &Resource{
		log:      logger.Named("atlas"),
		opts:     opts,
		source:   source,
		renderer: renderer,
		entries:  make(map[uint32]*entry),
		slots:    newSlots(opts.SlotCapacity),
	}
}

// TreeDepth - кількість рівнів дерева датасету
func (r *Resource) TreeDepth() int { return r.source.TreeDepth() }

// Options повертає налаштування з підставленими значеннями за замовчуванням
func (r *Resource) Options() Options { return r.opts }

// HasTextures - чи можна просити текстури
func (r *Resource) HasTextures() bool { return r.source.HasTextures() }

func (r *Resource) chunkLog(pos qtree.Pos) *zap.Logger {
	return r.log.With(zap.Uint8("level", pos.Level), zap.Uint32("col", pos.Col), zap.Uint32("row", pos.Row))
}

func (r *Resource) nextGen() uint64 {
	r.gen++
	return r.gen
}

func (r *Resource) lookup(pos qtree.Pos) *entry {
	return r.entries[pos.Index()]
}

func (r *Resource) getOrCreate(pos qtree.Pos) *entry {
	idx := pos.Index()
	e, ok := r.entries[idx]
	if !ok {
		e = &entry{pos: pos, gen: r.nextGen()}
		r.entries[idx] = e
	}
	return e
}

// IncOwnership - ще один в'юер ділить цей ресурс
func (r *Resource) IncOwnership() { r.owners++ }

// DecOwnership відпускає володіння. Останній власник зносить ресурс.
func (r *Resource) DecOwnership() error {
	if r.owners == 0 {
		return nil
	}
	r.owners--
	if r.owners > 0 {
		return nil
	}
	return r.Close()
}

// Owners - поточна кількість власників
func (r *Resource) Owners() int { return r.owners }

// StartLoader запускає потік завантаження.
// У синхронному режимі нічого не робить.
func (r *Resource) StartLoader(ctx context.Context) {
	if r.opts.Synchronous || r.group != nil || r.closed {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)
	r.slots.start()
	context.AfterFunc(ctx, r.slots.stop)

	lt := &loaderThread{
		log:    r.log.Named("loader"),
		slots:  r.slots,
		source: r.source,
		opts:   r.opts.chunkOptions(),
	}
	r.group.Go(func() error { return lt.run(ctx) })
}

// StopLoader знімає прапорець роботи і чекає завершення потоку.
// Вже взятий запит довантажиться і буде здано без споживача.
func (r *Resource) StopLoader() error {
	if r.group == nil {
		return nil
	}
	r.cancel()
	err := r.group.Wait()
	r.group, r.cancel = nil, nil
	return err
}

// Close зупиняє завантаження, вивантажує все і закриває джерело
func (r *Resource) Close() error {
	if r.closed {
		return nil
	}
	err := r.StopLoader()
	r.Purge()
	r.closed = true
	if c, ok := r.source.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	r.log.Info("Atlas resource closed")
	return err
}

// RequestGeomLoad просить геометрію чанка
func (r *Resource) RequestGeomLoad(pos qtree.Pos, who Requester, priority float32, reason Reason) error {
	return r.requestLoad(KindGeometry, pos, who, priority, reason)
}

// RequestTexLoad просить текстуру чанка
func (r *Resource) RequestTexLoad(pos qtree.Pos, who Requester, priority float32, reason Reason) error {
	return r.requestLoad(KindTexture, pos, who, priority, reason)
}

func (r *Resource) requestLoad(k Kind, pos qtree.Pos, who Requester, priority float32, reason Reason) error {
	if r.closed {
		return ErrClosed
	}
	if !pos.Valid() || int(pos.Level) >= r.source.TreeDepth() {
		return fmt.Errorf("%w: %v", ErrInvalidChunk, pos)
	}
	if k == KindTexture && !r.source.HasTextures() {
		return ErrNoTextures
	}

	e := r.getOrCreate(pos)
	if e.requests[k] == nil {
		e.requests[k] = new(RequestRegistry)
	}
	e.requests[k].Request(who, priority, reason)

	if err := e.failed[k]; err != nil {
		return fmt.Errorf("%w: %v: %w", ErrChunkFailed, pos, err)
	}
	if e.state[k] != StateUnloaded || e.pending[k] || e.inFlight[k] {
		return nil
	}
	e.state[k] = requestedState(k)

	if r.opts.Synchronous {
		r.loadInline(e, k)
		if err := e.failed[k]; err != nil {
			return fmt.Errorf("%w: %v: %w", ErrChunkFailed, pos, err)
		}
		return nil
	}
	e.pending[k] = true
	r.pending[k] = append(r.pending[k], e)
	return nil
}

// loadInline - синхронне завантаження на викликаючому потоці, повз слоти
func (r *Resource) loadInline(e *entry, k Kind) {
	req := newLoadRequest()
	priority, reason := e.requests[k].Top()
	*req = loadRequest{kind: k, reason: reason, priority: priority, pos: e.pos, gen: e.gen}
	e.inFlight[k] = true
	loadInto(context.Background(), r.source, r.opts.chunkOptions(), req)
	r.finish(req)
	freeLoadRequest(req)
}

// CancelGeomLoad відкликає запит на геометрію
func (r *Resource) CancelGeomLoad(pos qtree.Pos, who Requester, reason Reason) {
	r.cancelLoad(KindGeometry, pos, who, reason)
}

// CancelTexLoad відкликає запит на текстуру
func (r *Resource) CancelTexLoad(pos qtree.Pos, who Requester, reason Reason) {
	r.cancelLoad(KindTexture, pos, who, reason)
}

func (r *Resource) cancelLoad(k Kind, pos qtree.Pos, who Requester, reason Reason) {
	e := r.lookup(pos)
	if e == nil || !e.requests[k].Cancel(who, reason) {
		return
	}
	r.dropIfUnwanted(e, k)
}

// CancelAll відкликає всі запити запитувача в усіх чанках
func (r *Resource) CancelAll(who Requester) {
	for _, e := range r.entries {
		for k := Kind(0); k < kindCount; k++ {
			if e.requests[k].Cancel(who, ReasonRender) {
				r.dropIfUnwanted(e, k)
			}
		}
	}
}

// dropIfUnwanted знімає з черги чанк, якого вже ніхто не хоче.
// Завантажені дані вивантажуються на наступному Sync.
func (r *Resource) dropIfUnwanted(e *entry, k Kind) {
	if e.requests[k].RefCount() > 0 || !e.pending[k] {
		return
	}
	e.pending[k] = false
	e.state[k] = StateUnloaded
	q := r.pending[k]
	for i, p := range q {
		if p == e {
			r.pending[k] = append(q[:i], q[i+1:]...)
			break
		}
	}
}

// State повертає зведений стан чанка
func (r *Resource) State(pos qtree.Pos) State {
	if e := r.lookup(pos); e != nil {
		return e.State()
	}
	return StateUnloaded
}

// Priority - зведений пріоритет чанка для типу даних
func (r *Resource) Priority(k Kind, pos qtree.Pos) float32 {
	if e := r.lookup(pos); e != nil {
		return e.requests[k].CumulativePriority()
	}
	return 0
}

// RefCount - кількість запитувачів чанка для типу даних
func (r *Resource) RefCount(k Kind, pos qtree.Pos) int {
	if e := r.lookup(pos); e != nil {
		return e.requests[k].RefCount()
	}
	return 0
}

// Failure повертає помилку, через яку чанк позначено збійним
func (r *Resource) Failure(k Kind, pos qtree.Pos) error {
	if e := r.lookup(pos); e != nil {
		return e.failed[k]
	}
	return nil
}

// Payload повертає підготовлену геометрію, nil якщо чанк ще не готовий
func (r *Resource) Payload(pos qtree.Pos) *chunk.Payload {
	if e := r.lookup(pos); e != nil && e.state[KindGeometry] == StatePrepared {
		return e.geom
	}
	return nil
}

// Texture повертає завантажену текстуру чанка
func (r *Resource) Texture(pos qtree.Pos) Texture {
	if e := r.lookup(pos); e != nil && e.state[KindTexture] == StateTextured {
		return e.texture
	}
	return nil
}

// Stats - знімок стану ресурсу
type Stats struct {
	Entries  int
	Pending  [kindCount]int
	InFlight [kindCount]int
	Prepared int
	Textured int
	Failed   int
}

// Stats рахує знімок стану
func (r *Resource) Stats() Stats {
	s := Stats{Entries: len(r.entries)}
	for k := Kind(0); k < kindCount; k++ {
		s.Pending[k] = len(r.pending[k])
		s.InFlight[k] = r.slots.inFlight(k)
	}
	for _, e := range r.entries {
		if e.state[KindGeometry] == StatePrepared {
			s.Prepared++
		}
		if e.state[KindTexture] == StateTextured {
			s.Textured++
		}
		if e.failed[KindGeometry] != nil || e.failed[KindTexture] != nil {
			s.Failed++
		}
	}
	return s
}

// MarshalLogObject дозволяє писати Stats через zap.Object
func (s Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("entries", s.Entries)
	enc.AddInt("pendingGeom", s.Pending[KindGeometry])
	enc.AddInt("pendingTex", s.Pending[KindTexture])
	enc.AddInt("inFlightGeom", s.InFlight[KindGeometry])
	enc.AddInt("inFlightTex", s.InFlight[KindTexture])
	enc.AddInt("prepared", s.Prepared)
	enc.AddInt("textured", s.Textured)
	enc.AddInt("failed", s.Failed)
	return nil
}
