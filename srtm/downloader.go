// Package srtm downloads SRTM 1°x1° elevation tiles through the tile cache.
// Individual tile failures are logged and skipped so one missing ocean tile
// never sinks a whole request.
package srtm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mblock/topoforge"
	"github.com/mblock/topoforge/tilecache"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 1 * time.Second

	// SRTM1 .hgt.gz files run a few MB to ~25MB; anything outside this
	// window is a truncated or bogus download.
	defaultMinTileSize = 1 << 20
	defaultMaxTileSize = 50 << 20
)

// ErrTileNotFound indicates the upstream has no tile at this location,
// which is normal for open ocean.
var ErrTileNotFound = errors.New("srtm: tile not found upstream")

// Downloader fetches SRTM tiles via the cache with retries.
type Downloader struct {
	baseURL    string
	cache      *tilecache.Cache
	client     *http.Client
	logger     *slog.Logger
	userAgent  string
	workDir    string
	maxRetries int
	retryDelay time.Duration
	minSize    int64
	maxSize    int64
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// WithMaxRetries sets the number of attempts per tile.
func WithMaxRetries(n int) Option {
	return func(d *Downloader) {
		d.maxRetries = n
	}
}

// WithRetryDelay sets the base delay for exponential backoff.
// Attempt n waits delay * 2^(n-1) before retrying.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		d.retryDelay = delay
	}
}

// WithSizeLimits sets the accepted downloaded tile size window in bytes.
func WithSizeLimits(minSize, maxSize int64) Option {
	return func(d *Downloader) {
		d.minSize = minSize
		d.maxSize = maxSize
	}
}

// WithUserAgent sets the User-Agent header for tile requests.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithWorkDir sets the directory fetched tiles are copied into. The copies
// are named after the tile (N47E008.hgt.gz) and belong to the caller; the
// cache keeps its own files separately.
func WithWorkDir(dir string) Option {
	return func(d *Downloader) {
		d.workDir = dir
	}
}

// New creates a Downloader fetching from baseURL through cache.
func New(cache *tilecache.Cache, baseURL string, opts ...Option) *Downloader {
	d := &Downloader{
		baseURL:    baseURL,
		cache:      cache,
		client:     &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
		userAgent:  "topoforge/1.0",
		workDir:    filepath.Join(os.TempDir(), "topoforge-tiles"),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		minSize:    defaultMinTileSize,
		maxSize:    defaultMaxTileSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result reports the outcome of a bounds download.
type Result struct {
	// Paths holds the local file for each tile that was fetched or served
	// from the cache, in enumeration order.
	Paths []string

	// Skipped lists tiles that failed after all retries.
	Skipped []Tile
}

// Download fetches every tile intersecting bounds. Failing tiles are
// skipped; only context cancellation aborts the run.
func (d *Downloader) Download(ctx context.Context, bounds BoundingBox) (*Result, error) {
	tiles := TilesForBounds(bounds)
	d.logger.Info("downloading tiles", "count", len(tiles), "bounds", fmt.Sprintf("%+v", bounds))

	res := &Result{}
	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := d.FetchTile(ctx, tile)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			d.logger.Warn("skipping tile", "tile", tile.Name(), "error", err)
			res.Skipped = append(res.Skipped, tile)
			continue
		}
		res.Paths = append(res.Paths, path)
	}

	d.logger.Info("tile download finished", "fetched", len(res.Paths), "skipped", len(res.Skipped))
	return res, nil
}

// FetchTile returns the local path of one tile, downloading it if needed.
// The tile is copied into the work directory under its SRTM name so the
// path stays valid however the cache evicts. A lock sidecar marks the tile
// as in flight for the duration of the attempt and is removed
// unconditionally.
func (d *Downloader) FetchTile(ctx context.Context, tile Tile) (string, error) {
	url := tile.URL(d.baseURL)
	dest := filepath.Join(d.workDir, tile.FileName())

	lockPath := d.cache.Path(topoforge.HashURL(url)) + ".lock"
	if err := writeLockFile(lockPath); err != nil {
		d.logger.Warn("failed to create lock file", "path", lockPath, "error", err)
	}
	defer func() { _ = os.Remove(lockPath) }()

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		path, err := d.cache.FetchOrDownload(ctx, url, dest, func(ctx context.Context, w io.Writer) (int64, error) {
			return d.get(ctx, url, w)
		})
		if err == nil {
			// A cached file can have been truncated or replaced since it was
			// downloaded, so the size window is enforced again on the way out.
			if sizeErr := d.checkSize(path); sizeErr != nil {
				d.logger.Warn("cached tile failed size check, re-fetching",
					"tile", tile.Name(), "error", sizeErr)
				if err := d.cache.Invalidate(url); err != nil {
					d.logger.Warn("failed to invalidate tile", "tile", tile.Name(), "error", err)
				}
				_ = os.Remove(path)
				lastErr = sizeErr
				continue
			}
			return path, nil
		}
		lastErr = err

		// A tile the upstream does not have will not appear on retry.
		if errors.Is(err, ErrTileNotFound) || ctx.Err() != nil {
			break
		}

		if attempt < d.maxRetries {
			delay := d.retryDelay << (attempt - 1)
			d.logger.Debug("retrying tile",
				"tile", tile.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("fetching tile %s: %w", tile.Name(), lastErr)
}

// checkSize verifies a tile file on disk fits the accepted size window.
func (d *Downloader) checkSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat tile: %w", err)
	}
	if info.Size() < d.minSize || info.Size() > d.maxSize {
		return fmt.Errorf("tile size %d outside accepted range [%d, %d]", info.Size(), d.minSize, d.maxSize)
	}
	return nil
}

// get performs a single HTTP download attempt, streaming the body into w
// and validating the resulting size.
func (d *Downloader) get(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting tile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrTileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading tile body: %w", err)
	}

	if n < d.minSize || n > d.maxSize {
		return n, fmt.Errorf("tile size %d outside accepted range [%d, %d]", n, d.minSize, d.maxSize)
	}
	return n, nil
}

func writeLockFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
