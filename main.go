// Йоу, чат! Це atlasd - демон, який відкриває датасет ландшафту,
// запускає над ним стрімінговий ресурс і ганяє камеру по колу,
// щоб було видно як чанки приходять і йдуть.
// Ліцензія AGPL - наш код відкритий, і всі модифікації теж.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"go.uber.org/zap"

	"AtlasCore/game"
)

var (
	isDebug    = flag.Bool("debug", false, "Enable debug log output")
	configPath = flag.String("config", "config.toml", "Path to config file (.toml, .yaml or .yml)")
	runFor     = flag.Duration("duration", 0, "Stop after this long, 0 runs until interrupted")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	if *isDebug {
		logger = unwrap(zap.NewDevelopment())
	} else {
		logger = unwrap(zap.NewProduction())
	}
	defer func(logger *zap.Logger) {
		// stdout/stderr на деяких системах не вміють fsync, це не привід падати
		_ = logger.Sync()
	}(logger)

	logger.Info("Atlas start")
	printBuildInfo(logger)
	defer logger.Info("Atlas exit")

	config, err := game.ReadConfig(*configPath)
	if err != nil {
		logger.Error("Read config fail", zap.Error(err))
		os.Exit(1)
	}

	g, err := game.NewGame(logger, config)
	if err != nil {
		logger.Error("Open dataset fail", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	half := config.TerrainSize / 2
	camera := &game.Orbit{
		Center:   [2]float32{half, half},
		Radius:   half / 2,
		Altitude: config.TerrainSize / 64,
		Speed:    0.2,
		Ground:   g.Ground,
	}
	camera.Advance(0)
	g.AddViewer(camera)
	go fly(ctx, camera, config.FrameInterval())

	if err := g.Run(ctx); err != nil {
		logger.Error("Atlas run error", zap.Error(err))
	}
}

// fly рухає камеру в окремій горутині, поки ctx живий
func fly(ctx context.Context, camera *game.Orbit, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			camera.Advance(now.Sub(last))
			last = now
		}
	}
}

// printBuildInfo виводить інформацію про збірку
func printBuildInfo(logger *zap.Logger) {
	binaryInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string)
	for _, v := range binaryInfo.Settings {
		settings[v.Key] = v.Value
	}
	logger.Debug("Build info", zap.String("module", binaryInfo.Main.Path), zap.Any("settings", settings))
}

// unwrap - якщо є помилка, панікуємо
func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
