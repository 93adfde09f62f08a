// Command topoforge generates 3D-printable terrain models from SRTM
// elevation data: bounding box in, binary STL out.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/mblock/topoforge/telemetry"
)

var version = "dev"

type globals struct {
	LogLevel     string `name:"log-level" default:"info" help:"Log level (debug, info, warn, error)."`
	LogFormat    string `name:"log-format" default:"text" help:"Log format (text, json)."`
	CacheDir     string `name:"cache-dir" default:"./tile-cache" help:"Tile cache directory."`
	OTLPEndpoint string `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export (disabled when empty)."`
}

type cli struct {
	globals

	Generate generateCmd      `cmd:"" help:"Download elevation data for a bounding box and write an STL model."`
	Cache    cacheCmd         `cmd:"" help:"Tile cache maintenance."`
	Version  kong.VersionFlag `help:"Print version and exit."`
}

// app carries the run context and logger into command Run methods.
type app struct {
	ctx      context.Context
	logger   *slog.Logger
	cacheDir string
}

func main() {
	var cli cli
	kctx := kong.Parse(&cli,
		kong.Name("topoforge"),
		kong.Description("Topographic 3D model generator."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cli.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
			ServiceName:    "topoforge",
			ServiceVersion: version,
			OTLPEndpoint:   cli.OTLPEndpoint,
		})
		kctx.FatalIfErrorf(err)
		defer func() { _ = shutdown(context.Background()) }()
	}

	err = kctx.Run(&app{ctx: ctx, logger: logger, cacheDir: cli.CacheDir})
	kctx.FatalIfErrorf(err)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
