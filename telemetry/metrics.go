// Package telemetry wires OpenTelemetry metrics for the tile cache and
// downloader. Recording functions are safe to call before InitMetrics; they
// no-op until the meter provider exists.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/mblock/topoforge"
)

// CacheResult tags a cache lookup outcome.
type CacheResult string

const (
	// CacheHit means the tile was served from disk.
	CacheHit CacheResult = "hit"
	// CacheMiss means the tile had to be downloaded.
	CacheMiss CacheResult = "miss"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	cacheRequestsTotal  metric.Int64Counter
	downloadsTotal      metric.Int64Counter
	downloadBytesTotal  metric.Int64Counter
	downloadDuration    metric.Float64Histogram
	sweepRemovedTotal   metric.Int64Counter
	triangulesTotal     metric.Int64Counter
	triangulateDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "topoforge"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// With no exporters configured, a no-op periodic reader still collects.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	cacheRequestsTotal, err := meter.Int64Counter(
		"topoforge_tile_cache_requests_total",
		metric.WithDescription("Total tile cache lookups"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	downloadsTotal, err := meter.Int64Counter(
		"topoforge_tile_downloads_total",
		metric.WithDescription("Total tile download attempts"),
		metric.WithUnit("{download}"),
	)
	if err != nil {
		return err
	}

	downloadBytesTotal, err := meter.Int64Counter(
		"topoforge_tile_download_bytes_total",
		metric.WithDescription("Total bytes downloaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	downloadDuration, err := meter.Float64Histogram(
		"topoforge_tile_download_duration_seconds",
		metric.WithDescription("Tile download duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	sweepRemovedTotal, err := meter.Int64Counter(
		"topoforge_tile_cache_sweep_removed_total",
		metric.WithDescription("Total entries removed by expiry sweeps and LRU eviction"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	triangulesTotal, err := meter.Int64Counter(
		"topoforge_mesh_triangles_total",
		metric.WithDescription("Total triangles produced by triangulation runs"),
		metric.WithUnit("{triangle}"),
	)
	if err != nil {
		return err
	}

	triangulateDuration, err := meter.Float64Histogram(
		"topoforge_triangulate_duration_seconds",
		metric.WithDescription("Grid triangulation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		cacheRequestsTotal:  cacheRequestsTotal,
		downloadsTotal:      downloadsTotal,
		downloadBytesTotal:  downloadBytesTotal,
		downloadDuration:    downloadDuration,
		sweepRemovedTotal:   sweepRemovedTotal,
		triangulesTotal:     triangulesTotal,
		triangulateDuration: triangulateDuration,
		meterProvider:       mp,
		promHandler:         promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheRequest records one tile cache lookup.
func RecordCacheRequest(ctx context.Context, result CacheResult) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheRequestsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", string(result))))
}

// RecordTileDownload records one tile download attempt.
func RecordTileDownload(ctx context.Context, duration time.Duration, bytes int64, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.downloadsTotal.Add(ctx, 1, attrs)
	globalMetrics.downloadDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.downloadBytesTotal.Add(ctx, bytes, attrs)
	}
}

// RecordCacheSweep records entries removed by one sweep or eviction pass.
// reason is "expired" or "evicted".
func RecordCacheSweep(ctx context.Context, reason string, removed int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(removed),
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTriangulation records one triangulation run.
func RecordTriangulation(ctx context.Context, triangles int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.triangulesTotal.Add(ctx, int64(triangles))
	globalMetrics.triangulateDuration.Record(ctx, duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
