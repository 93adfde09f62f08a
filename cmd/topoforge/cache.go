package main

import (
	"fmt"
	"time"

	"github.com/mblock/topoforge/tilecache"
)

type cacheCmd struct {
	Stats cacheStatsCmd `cmd:"" help:"Show tile cache contents."`
	Sweep cacheSweepCmd `cmd:"" help:"Remove expired tiles."`
	Clear cacheClearCmd `cmd:"" help:"Remove all cached tiles."`
}

type cacheStatsCmd struct{}

func (c *cacheStatsCmd) Run(app *app) error {
	cache, err := tilecache.New(app.cacheDir, tilecache.WithLogger(app.logger))
	if err != nil {
		return fmt.Errorf("opening tile cache: %w", err)
	}
	defer cache.Close()

	fmt.Printf("cache directory: %s\n", app.cacheDir)
	fmt.Printf("cached tiles:    %d\n", cache.Len())
	return nil
}

type cacheSweepCmd struct {
	TTL time.Duration `default:"720h" help:"Entries older than this are removed."`
}

func (c *cacheSweepCmd) Run(app *app) error {
	cache, err := tilecache.New(app.cacheDir,
		tilecache.WithLogger(app.logger),
		tilecache.WithTTL(c.TTL),
	)
	if err != nil {
		return fmt.Errorf("opening tile cache: %w", err)
	}
	defer cache.Close()

	removed, err := cache.SweepExpired(app.ctx)
	if err != nil {
		return fmt.Errorf("sweeping cache: %w", err)
	}
	fmt.Printf("removed %d expired tiles, %d remaining\n", removed, cache.Len())
	return nil
}

type cacheClearCmd struct{}

func (c *cacheClearCmd) Run(app *app) error {
	cache, err := tilecache.New(app.cacheDir, tilecache.WithLogger(app.logger))
	if err != nil {
		return fmt.Errorf("opening tile cache: %w", err)
	}
	defer cache.Close()

	if err := cache.Clear(app.ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Println("cache cleared")
	return nil
}
