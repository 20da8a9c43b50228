package registry

import (
	"path/filepath"
	"strings"

	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

// AddGauge appends one gauge sample (spec.md §6 "Gauge: add(time, value, tags)").
func (r *Registry) AddGauge(metric string, t uint64, value float32, tags []string) error {
	return r.add(metric, types.KindGauge, t, types.GaugeValue(value), tags)
}

// AddCount appends one count sample.
func (r *Registry) AddCount(metric string, t uint64, count uint32, tags []string) error {
	return r.add(metric, types.KindCount, t, types.CountValue(count), tags)
}

// AddRatio appends one ratio (numerator/denominator) sample.
func (r *Registry) AddRatio(metric string, t uint64, num, den uint32, tags []string) error {
	return r.add(metric, types.KindRatio, t, types.RatioValue(num, den), tags)
}

// AddGaugeBatch appends every sample, continuing past individual failures
// (spec.md §6 "Batch form returns (num_accepted, first_error?)").
func (r *Registry) AddGaugeBatch(metric string, samples []GaugeSample) (int, error) {
	n, firstErr := 0, error(nil)
	for _, s := range samples {
		if err := r.AddGauge(metric, s.Time, s.Value, s.Tags); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// AddCountBatch is AddGaugeBatch's Count-kind counterpart.
func (r *Registry) AddCountBatch(metric string, samples []CountSample) (int, error) {
	n, firstErr := 0, error(nil)
	for _, s := range samples {
		if err := r.AddCount(metric, s.Time, s.Count, s.Tags); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// AddRatioBatch is AddGaugeBatch's Ratio-kind counterpart.
func (r *Registry) AddRatioBatch(metric string, samples []RatioSample) (int, error) {
	n, firstErr := 0, error(nil)
	for _, s := range samples {
		if err := r.AddRatio(metric, s.Time, s.Num, s.Den, s.Tags); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// GaugeSample, CountSample and RatioSample are one batch-ingest element per kind.
type GaugeSample struct {
	Time  uint64
	Value float32
	Tags  []string
}

type CountSample struct {
	Time  uint64
	Count uint32
	Tags  []string
}

type RatioSample struct {
	Time uint64
	Num  uint32
	Den  uint32
	Tags []string
}

func (r *Registry) add(metric string, kind types.Kind, t uint64, val types.Value, tags []string) error {
	e, ok := r.get(metric)
	if !ok {
		return merrors.NewMetricError(nil, merrors.ErrorCodeMetricNotFound, "metric not found").WithName(metric)
	}
	if e.kind != kind {
		return merrors.NewMetricError(nil, merrors.ErrorCodeWrongMetricType, "wrong metric kind for this ingest call").
			WithName(metric).
			WithKind(kind.String())
	}

	// A write lock, not a read lock: Partition.Add mutates segment/block
	// state with no internal synchronization of its own (spec.md §5 "per
	// metric, writers see a total order equal to call order" — that
	// total order is enforced here, by serializing every writer on one
	// metric behind this single per-metric mutex).
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := r.resolvePartitionLocked(e, tags)
	if err != nil {
		return err
	}
	return p.Add(t, tags, val)
}

// resolvePartitionLocked implements spec.md §3's partition-selection rule:
// route to the first already-declared primary tag the sample carries;
// failing that, the first auto-primary-tag key it carries (eagerly creating
// a partition the first time that value is seen); otherwise the Default
// partition. Caller must hold e.mu for writing.
func (r *Registry) resolvePartitionLocked(e *metricEntry, tags []string) (*partition.Partition, error) {
	for _, tag := range tags {
		if p, ok := e.partitions[tag]; ok {
			return p, nil
		}
	}
	for _, key := range e.autoPrimaryTagKeys {
		prefix := key + ":"
		for _, tag := range tags {
			if strings.HasPrefix(tag, prefix) {
				return r.getOrCreatePartitionLocked(e, tag)
			}
		}
	}
	return e.partitions[""], nil
}

// getOrCreatePartitionLocked returns the partition for label, creating and
// persisting it if this is the first sample seen for that auto-discovered
// primary-tag value. Caller must hold e.mu for writing.
func (r *Registry) getOrCreatePartitionLocked(e *metricEntry, label string) (*partition.Partition, error) {
	if p, ok := e.partitions[label]; ok {
		return p, nil
	}

	p, err := partition.Open(filepath.Join(e.dir, partitionDirName(label)), label, e.kind, r.opts, r.log)
	if err != nil {
		return nil, merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagSave, "failed to auto-create primary-tag partition").
			WithName(e.name).
			WithDetail("primary_tag", label)
	}
	e.partitions[label] = p
	e.primaryTags = append(e.primaryTags, label)

	if err := savePrimaryTags(e.dir, e.primaryTags); err != nil {
		return nil, err
	}
	return p, nil
}
