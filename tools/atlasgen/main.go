// Йоу, чат! atlasgen збирає синтетичний датасет для atlasd:
// контейнер геометрії зі синусоїдальним рельєфом, колізії для
// листових чанків і контейнер RGBA текстур, де внутрішні рівні
// зменшуються з листя. Ще вміє накласти один контейнер на інший.
//
//	atlasgen gen -out world -depth 5
//	atlasgen merge -base a.tiles -overlay b.tiles -out c.tiles

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AtlasCore/atlas/chunk"
	"AtlasCore/atlas/qtree"
	"AtlasCore/atlas/tilestore"
)

func main() {
	logger := unwrap(zap.NewDevelopment())
	defer func() { _ = logger.Sync() }()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: atlasgen gen|merge [flags]")
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "gen":
		err = gen(logger, os.Args[2:])
	case "merge":
		err = merge(logger, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		logger.Error("atlasgen fail", zap.Error(err))
		os.Exit(1)
	}
}

type genOptions struct {
	out            string
	depth          int
	grid           int
	tileSize       int
	collisionDepth int
	amplitude      float64
}

func gen(logger *zap.Logger, args []string) error {
	var o genOptions
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	fs.StringVar(&o.out, "out", "world", "Output directory")
	fs.IntVar(&o.depth, "depth", 5, "Quadtree depth")
	fs.IntVar(&o.grid, "grid", 17, "Vertices per chunk side")
	fs.IntVar(&o.tileSize, "tile", 64, "Texture tile size, power of two")
	fs.IntVar(&o.collisionDepth, "collision-depth", 3, "Collision tree depth of leaf chunks")
	fs.Float64Var(&o.amplitude, "amplitude", 8000, "Height amplitude in fixed units")
	_ = fs.Parse(args)

	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return err
	}
	geomPath := filepath.Join(o.out, "geometry.tiles")
	texPath := filepath.Join(o.out, "texture.tiles")
	if err := genGeometry(logger, geomPath, o); err != nil {
		return err
	}
	if err := genTextures(logger, texPath, o); err != nil {
		return err
	}
	logger.Info("Dataset written",
		zap.String("geometry", geomPath),
		zap.String("texture", texPath),
		zap.Int("depth", o.depth),
		zap.Uint32("chunks", qtree.NodeCount(o.depth)),
	)
	return nil
}

// height - рельєф у точці (x, y) з [0,1]^2 всього ландшафту
func (o genOptions) height(x, y float64) int16 {
	h := math.Sin(x*2*math.Pi)*math.Cos(y*2*math.Pi) + 0.25*math.Sin(x*11)*math.Sin(y*13)
	return int16(math.Round(h * o.amplitude / 1.25))
}

func (o genOptions) chunkSource(p qtree.Pos) (*chunk.Source, error) {
	side := float64(uint32(1) << p.Level)
	at := func(u, v float64) int16 { return o.height((float64(p.Col)+u)/side, (float64(p.Row)+v)/side) }
	// ціль морфу - висота у вузлі вдвічі рідшої сітки
	step := 2 / float64(o.grid-1)
	snap := func(t float64) float64 { return math.Floor(t/step) * step }
	src := chunk.GridSource(o.grid, at, func(u, v float64) int16 { return at(snap(u), snap(v)) })
	if int(p.Level) == o.depth-1 && o.collisionDepth > 0 {
		col, err := chunk.BuildCollision(src.Vertices, src.Indices, o.collisionDepth)
		if err != nil {
			return nil, fmt.Errorf("collision for %v: %w", p, err)
		}
		src.Collision = col
	}
	return src, nil
}

func genGeometry(logger *zap.Logger, path string, o genOptions) error {
	n := qtree.NodeCount(o.depth)
	blobs := make([][]byte, n)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := uint32(0); i < n; i++ {
		i := i
		g.Go(func() error {
			p := qtree.PosOf(i)
			src, err := o.chunkSource(p)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := chunk.Encode(&buf, src); err != nil {
				return fmt.Errorf("encode %v: %w", p, err)
			}
			blobs[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w, err := tilestore.Create(path, tilestore.Bitmap, o.depth, 32)
	if err != nil {
		return err
	}
	for i, blob := range blobs {
		if err := w.WriteTile(qtree.PosOf(uint32(i)), blob); err != nil {
			_ = w.Finalize()
			return err
		}
	}
	logger.Debug("Geometry written", zap.Int("tiles", len(blobs)))
	return w.Finalize()
}

func genTextures(logger *zap.Logger, path string, o genOptions) error {
	w, err := tilestore.Create(path, tilestore.Bitmap, o.depth, o.tileSize)
	if err != nil {
		return err
	}
	leaf := uint32(1) << uint(o.depth-1)
	for row := uint32(0); row < leaf; row++ {
		for col := uint32(0); col < leaf; col++ {
			if err := w.WriteLeafTile(col, row, o.leafTexture(col, row, leaf)); err != nil {
				_ = w.Finalize()
				return err
			}
		}
	}
	if err := w.GenerateInnerTiles(context.Background(), tilestore.BitmapDownsample); err != nil {
		_ = w.Finalize()
		return err
	}
	logger.Debug("Textures written", zap.Uint32("leaves", leaf*leaf))
	return w.Finalize()
}

// leafTexture фарбує тайл за висотою: низини зелені, вершини світлі
func (o genOptions) leafTexture(col, row, side uint32) []byte {
	ts := o.tileSize
	out := make([]byte, ts*ts*4)
	for y := 0; y < ts; y++ {
		for x := 0; x < ts; x++ {
			h := float64(o.height((float64(col)+float64(x)/float64(ts))/float64(side),
				(float64(row)+float64(y)/float64(ts))/float64(side))) / o.amplitude
			t := math.Max(0, math.Min(1, h*0.5+0.5))
			i := (y*ts + x) * 4
			out[i+0] = byte(60 + 180*t)
			out[i+1] = byte(120 + 120*t)
			out[i+2] = byte(50 + 190*t)
			out[i+3] = 255
		}
	}
	return out
}

func merge(logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	basePath := fs.String("base", "", "Base container")
	overlayPath := fs.String("overlay", "", "Overlay container, its tiles win")
	out := fs.String("out", "", "Output container")
	_ = fs.Parse(args)
	if *basePath == "" || *overlayPath == "" || *out == "" {
		return fmt.Errorf("merge needs -base, -overlay and -out")
	}

	base, err := tilestore.Open(*basePath)
	if err != nil {
		return err
	}
	defer base.Close()
	overlay, err := tilestore.Open(*overlayPath)
	if err != nil {
		return err
	}
	defer overlay.Close()

	if err := tilestore.Merge(*out, base, overlay); err != nil {
		return err
	}
	logger.Info("Merged", zap.String("out", *out))
	return nil
}

func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
