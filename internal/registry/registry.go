// Package registry implements Component I: the concurrent, per-metric
// coordinator that spec.md §5 describes — sharded by metric name, one
// read/write lock per metric, a single creation mutex guarding the
// "does not exist -> create" race. It generalizes the teacher's
// single-instance Engine/Index/Storage triad into an N-instance table, one
// triad (kind + partitions + tag index) per metric name.
package registry

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/filesys"
	"github.com/metridb/metridb/pkg/merrors"
	"github.com/metridb/metridb/pkg/options"
)

// MetricConfig declares a metric at creation time (spec.md §3 "Metric":
// `{name, kind, partitions, auto-primary-tag keys}`). Supplemented from
// original_source/src/model.rs: PrimaryTags are eagerly materialized;
// AutoPrimaryTagKeys are discovered lazily, the first time a sample carries
// that key.
type MetricConfig struct {
	Name               string
	Kind               types.Kind
	PrimaryTags        []string
	AutoPrimaryTagKeys []string
}

// metricEntry is one metric's coordinator: its own lock, its declared/
// discovered primary-tag partitions, and its Default partition.
type metricEntry struct {
	mu sync.RWMutex

	dir                string
	name               string
	kind               types.Kind
	autoPrimaryTagKeys []string

	// primaryTags holds every primary tag label ("key:value") this metric
	// has a non-Default partition for, declared or discovered, in the
	// order they were first created.
	primaryTags []string

	// partitions is keyed by primary label; "" is the Default partition.
	partitions map[string]*partition.Partition
}

// Registry owns every metric's coordinator under one data directory.
type Registry struct {
	dataDir string
	opts    options.Options
	log     *zap.SugaredLogger

	creationMu sync.Mutex
	mu         sync.RWMutex
	metrics    map[string]*metricEntry
	order      []string // insertion order, for a stable metrics.json.

	flushStop chan struct{}
	flushDone chan struct{}
}

// Open loads dataDir's metrics manifest (if any) and returns a ready
// Registry, with every declared metric's Default partition and declared
// primary-tag partitions opened eagerly.
func Open(dataDir string, opts options.Options, log *zap.SugaredLogger) (*Registry, error) {
	if err := filesys.CreateDir(dataDir, 0755, true); err != nil {
		return nil, merrors.ClassifyDirectoryCreationError(err, dataDir)
	}

	r := &Registry{
		dataDir: dataDir,
		opts:    opts,
		log:     log,
		metrics: make(map[string]*metricEntry),
	}

	entries, err := loadMetricsManifest(dataDir)
	if err != nil {
		return nil, err
	}
	for _, me := range entries {
		if _, err := r.openMetric(me.Name, me.Kind, me.AutoPrimaryTagKeys); err != nil {
			return nil, err
		}
	}

	r.startFlushLoop()
	return r, nil
}

func (r *Registry) metricDir(name string) string { return filepath.Join(r.dataDir, name) }

// partitionDirName maps a primary label to a filesystem-safe directory
// name: "" (Default) becomes "_default"; any other label has its ':'
// replaced, since labels are "key:value" strings and ':' is unsafe on some
// filesystems.
func partitionDirName(label string) string {
	if label == "" {
		return "_default"
	}
	return strings.NewReplacer(":", "__", "/", "_").Replace(label)
}

// openMetric loads (or, if not yet persisted, creates) one metric's entry:
// its Default partition, its declared/discovered primary-tag partitions,
// and its manifest. autoPrimaryTagKeys is persisted in metrics.json
// alongside name/kind, so a reopened store keeps auto-discovering primary
// tags on the same keys it was configured with originally.
func (r *Registry) openMetric(name string, kind types.Kind, autoPrimaryTagKeys []string) (*metricEntry, error) {
	dir := r.metricDir(name)
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, merrors.ClassifyDirectoryCreationError(err, dir)
	}

	declared, err := loadPrimaryTags(dir)
	if err != nil {
		return nil, err
	}

	e := &metricEntry{
		dir:                dir,
		name:               name,
		kind:               kind,
		autoPrimaryTagKeys: autoPrimaryTagKeys,
		partitions:         make(map[string]*partition.Partition),
	}

	def, err := partition.Open(filepath.Join(dir, partitionDirName("")), "", kind, r.opts, r.log)
	if err != nil {
		return nil, err
	}
	e.partitions[""] = def

	for _, label := range declared {
		p, err := partition.Open(filepath.Join(dir, partitionDirName(label)), label, kind, r.opts, r.log)
		if err != nil {
			return nil, err
		}
		e.partitions[label] = p
		e.primaryTags = append(e.primaryTags, label)
	}

	r.mu.Lock()
	r.metrics[name] = e
	r.order = append(r.order, name)
	r.mu.Unlock()

	return e, nil
}

// CreateMetric declares a metric, idempotently: calling it again for an
// existing name with the same Kind only merges in any new PrimaryTags
// (AutoPrimaryTagKeys of the repeat call are ignored); a Kind mismatch is
// WrongMetricType (spec.md §7's MetricAlreadyExists covers a stricter
// "reject outright" policy — DESIGN.md records why idempotent-same-kind
// was chosen instead).
func (r *Registry) CreateMetric(cfg MetricConfig) error {
	r.creationMu.Lock()
	defer r.creationMu.Unlock()

	if e, ok := r.get(cfg.Name); ok {
		if e.kind != cfg.Kind {
			return merrors.NewMetricError(nil, merrors.ErrorCodeWrongMetricType, "metric already exists with a different kind").
				WithName(cfg.Name).
				WithKind(cfg.Kind.String())
		}
		return r.declarePrimaryTags(e, cfg.PrimaryTags)
	}

	e, err := r.openMetric(cfg.Name, cfg.Kind, cfg.AutoPrimaryTagKeys)
	if err != nil {
		return merrors.NewMetricError(err, merrors.ErrorCodeMetricCreate, "failed to create metric").WithName(cfg.Name)
	}

	if err := r.declarePrimaryTags(e, cfg.PrimaryTags); err != nil {
		return err
	}
	return r.saveMetricsManifest()
}

// declarePrimaryTags eagerly creates a partition for every label in tags
// that doesn't already have one (spec.md §3 "Partitions are created when a
// primary tag is added (eagerly)").
func (r *Registry) declarePrimaryTags(e *metricEntry, tags []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, label := range tags {
		if _, ok := e.partitions[label]; ok {
			continue
		}
		p, err := partition.Open(filepath.Join(e.dir, partitionDirName(label)), label, e.kind, r.opts, r.log)
		if err != nil {
			return merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagSave, "failed to create primary-tag partition").
				WithName(e.name).
				WithDetail("primary_tag", label)
		}
		e.partitions[label] = p
		e.primaryTags = append(e.primaryTags, label)
		changed = true
	}
	if changed {
		return savePrimaryTags(e.dir, e.primaryTags)
	}
	return nil
}

func (r *Registry) get(name string) (*metricEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.metrics[name]
	return e, ok
}

// MetricKind reports a known metric's kind, for callers (the root facade's
// typed handles) that need to validate a handle's kind against the
// registry before dispatching.
func (r *Registry) MetricKind(name string) (types.Kind, bool) {
	e, ok := r.get(name)
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// MetricNames returns every declared metric name, sorted.
func (r *Registry) MetricNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close stops the background flush loop and closes every partition of
// every metric.
func (r *Registry) Close() error {
	r.stopFlushLoop()

	r.mu.RLock()
	entries := make([]*metricEntry, 0, len(r.metrics))
	for _, e := range r.metrics {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		e.mu.Lock()
		for _, p := range e.partitions {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.mu.Unlock()
	}
	return firstErr
}
