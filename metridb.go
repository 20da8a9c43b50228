// Package metridb is an embeddable time-series metrics engine: gauges,
// counts, and ratios, sharded into primary-tag partitions and indexed by a
// secondary-tag bitmap, queried through a windowing/streaming operator
// pipeline with an optional cross-metric expression language.
//
// DB is the package's entry point, generalizing the single-instance
// Engine/Instance split of the pack's key/value store teacher into an
// N-metric registry: one Open call per embedding process, one typed handle
// per declared metric.
package metridb

import (
	"context"

	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/query"
	"github.com/metridb/metridb/internal/registry"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/logger"
	"github.com/metridb/metridb/pkg/merrors"
	"github.com/metridb/metridb/pkg/options"
)

// DB is one open metrics store rooted at a data directory.
type DB struct {
	reg *registry.Registry
}

// Open loads (or creates) a metrics store rooted at dataDir, applying any
// functional options over the engine's defaults.
func Open(ctx context.Context, service string, dataDir string, opts ...options.OptionFunc) (*DB, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	reg, err := registry.Open(dataDir, defaultOpts, log)
	if err != nil {
		return nil, err
	}
	return &DB{reg: reg}, nil
}

// MetricConfig declares a metric's shape at creation time.
type MetricConfig = registry.MetricConfig

// CreateMetric declares metric cfg.Name, idempotently for a matching kind.
func (db *DB) CreateMetric(cfg MetricConfig) error {
	return db.reg.CreateMetric(cfg)
}

// MetricNames lists every declared metric, sorted.
func (db *DB) MetricNames() []string { return db.reg.MetricNames() }

// Gauge returns a typed handle for an already-declared Gauge metric.
func (db *DB) Gauge(name string) (*GaugeMetric, error) {
	if err := db.checkKind(name, types.KindGauge); err != nil {
		return nil, err
	}
	return &GaugeMetric{db: db, name: name}, nil
}

// Count returns a typed handle for an already-declared Count metric.
func (db *DB) Count(name string) (*CountMetric, error) {
	if err := db.checkKind(name, types.KindCount); err != nil {
		return nil, err
	}
	return &CountMetric{db: db, name: name}, nil
}

// Ratio returns a typed handle for an already-declared Ratio metric.
func (db *DB) Ratio(name string) (*RatioMetric, error) {
	if err := db.checkKind(name, types.KindRatio); err != nil {
		return nil, err
	}
	return &RatioMetric{db: db, name: name}, nil
}

func (db *DB) checkKind(name string, want types.Kind) error {
	kind, ok := db.reg.MetricKind(name)
	if !ok {
		return merrors.NewMetricError(nil, merrors.ErrorCodeMetricNotFound, "metric not found").WithName(name)
	}
	if kind != want {
		return merrors.NewMetricError(nil, merrors.ErrorCodeWrongMetricType, "metric exists with a different kind").
			WithName(name).
			WithKind(kind.String())
	}
	return nil
}

// GaugeMetric is a typed ingest handle bound to one Gauge metric.
type GaugeMetric struct {
	db   *DB
	name string
}

// Add appends one gauge sample at t seconds, with tags as "key:value" pairs.
func (m *GaugeMetric) Add(t float64, value float64, tags ...string) error {
	return m.db.reg.AddGauge(m.name, uint64(types.SecondsToTicks(t)), float32(value), tags)
}

// AddBatch appends every sample, returning (accepted count, first error).
func (m *GaugeMetric) AddBatch(samples []registry.GaugeSample) (int, error) {
	return m.db.reg.AddGaugeBatch(m.name, samples)
}

// CountMetric is a typed ingest handle bound to one Count metric.
type CountMetric struct {
	db   *DB
	name string
}

// Add appends one count sample at t seconds.
func (m *CountMetric) Add(t float64, count uint32, tags ...string) error {
	return m.db.reg.AddCount(m.name, uint64(types.SecondsToTicks(t)), count, tags)
}

// AddBatch appends every sample, returning (accepted count, first error).
func (m *CountMetric) AddBatch(samples []registry.CountSample) (int, error) {
	return m.db.reg.AddCountBatch(m.name, samples)
}

// RatioMetric is a typed ingest handle bound to one Ratio metric.
type RatioMetric struct {
	db   *DB
	name string
}

// Add appends one ratio sample at t seconds.
func (m *RatioMetric) Add(t float64, num, den uint32, tags ...string) error {
	return m.db.reg.AddRatio(m.name, uint64(types.SecondsToTicks(t)), num, den, tags)
}

// AddBatch appends every sample, returning (accepted count, first error).
func (m *RatioMetric) AddBatch(samples []registry.RatioSample) (int, error) {
	return m.db.reg.AddRatioBatch(m.name, samples)
}

// Query runs q against metric and returns its tagged-union result.
func (db *DB) Query(metric string, q query.Query) (query.OperationResult, error) {
	return db.reg.Query(metric, q)
}

// MetricQuery evaluates a cross-metric composition tree.
func (db *DB) MetricQuery(tree expr.MetricQueryExpr, windowed bool) (query.OperationResult, error) {
	return db.reg.MetricQuery(tree, windowed)
}

// Close stops the background flush loop and closes every open partition.
func (db *DB) Close() error { return db.reg.Close() }
