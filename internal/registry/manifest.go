package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/filesys"
	"github.com/metridb/metridb/pkg/merrors"
)

// metricsManifestName is the root-level file listing every declared metric
// (spec.md §6 "<root>/metrics.json : [[name, kind], …]").
const metricsManifestName = "metrics.json"

// primaryTagsManifestName lists one metric's eagerly-declared and
// auto-discovered primary tags (spec.md §6
// "<root>/<metric>/primary_tags.json").
const primaryTagsManifestName = "primary_tags.json"

type metricManifestEntry struct {
	Name               string     `json:"name"`
	Kind               types.Kind `json:"kind"`
	AutoPrimaryTagKeys []string   `json:"auto_primary_tag_keys,omitempty"`
}

func loadMetricsManifest(dataDir string) ([]metricManifestEntry, error) {
	raw, err := filesys.ReadFile(filepath.Join(dataDir, metricsManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merrors.NewMetricError(err, merrors.ErrorCodeConfigLoad, "failed to read metrics manifest")
	}
	var entries []metricManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, merrors.NewMetricError(err, merrors.ErrorCodeConfigLoad, "failed to parse metrics manifest")
	}
	return entries, nil
}

// saveMetricsManifest rewrites metrics.json from the registry's current
// metric set. Caller must hold r.creationMu.
func (r *Registry) saveMetricsManifest() error {
	entries := make([]metricManifestEntry, 0, len(r.order))
	for _, name := range r.order {
		e, ok := r.get(name)
		if !ok {
			continue
		}
		entries = append(entries, metricManifestEntry{Name: name, Kind: e.kind, AutoPrimaryTagKeys: e.autoPrimaryTagKeys})
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return merrors.NewMetricError(err, merrors.ErrorCodeConfigSave, "failed to encode metrics manifest")
	}
	if err := filesys.WriteFile(filepath.Join(r.dataDir, metricsManifestName), 0644, raw); err != nil {
		return merrors.NewMetricError(err, merrors.ErrorCodeConfigSave, "failed to write metrics manifest")
	}
	return nil
}

func loadPrimaryTags(metricDir string) ([]string, error) {
	raw, err := filesys.ReadFile(filepath.Join(metricDir, primaryTagsManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagLoad, "failed to read primary tags manifest")
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagLoad, "failed to parse primary tags manifest")
	}
	return tags, nil
}

// savePrimaryTags rewrites <metric>/primary_tags.json. Caller must hold
// e.mu for writing.
func savePrimaryTags(metricDir string, tags []string) error {
	raw, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagSave, "failed to encode primary tags manifest")
	}
	if err := filesys.WriteFile(filepath.Join(metricDir, primaryTagsManifestName), 0644, raw); err != nil {
		return merrors.NewMetricError(err, merrors.ErrorCodePrimaryTagSave, "failed to write primary tags manifest")
	}
	return nil
}
