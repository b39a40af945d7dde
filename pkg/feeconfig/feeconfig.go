// Package feeconfig loads a block catalog and cluster-group geometry for
// [fee.Engine] from a HuJSON (JSON with comments and trailing commas)
// config file.
package feeconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/flagchip/feerom/pkg/fee"
)

// fileBlock is the on-disk shape of one block catalog entry.
type fileBlock struct {
	Number       uint16 `json:"number"`
	Size         uint16 `json:"size"`
	ClusterGroup int    `json:"cluster_group"` //nolint:tagliatelle // snake_case for config file
	Immediate    bool   `json:"immediate,omitempty"`
}

// fileCluster is the on-disk shape of one cluster's static geometry.
type fileCluster struct {
	StartAddr uint32 `json:"start_addr"` //nolint:tagliatelle // snake_case for config file
	Length    uint32 `json:"length"`
}

// fileGroup is the on-disk shape of one cluster group.
type fileGroup struct {
	Clusters     []fileCluster `json:"clusters"`
	ReservedSize uint32        `json:"reserved_size"` //nolint:tagliatelle // snake_case for config file
}

// fileConfig is the on-disk shape of a complete [fee.Config].
type fileConfig struct {
	Blocks []fileBlock `json:"blocks"`
	Groups []fileGroup `json:"groups"`
}

// Load reads and parses the HuJSON config file at path into a [fee.Config].
// The returned config is not validated against [fee.New]'s stricter
// structural invariants (cluster count, minimum length, catalog ordering);
// callers pass it to [fee.New] to get those checks.
func Load(path string) (fee.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally caller-controlled
	if err != nil {
		return fee.Config{}, fmt.Errorf("feeconfig: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return fee.Config{}, fmt.Errorf("feeconfig: parse %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes HuJSON-encoded data into a [fee.Config].
func Parse(data []byte) (fee.Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fee.Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fee.Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc.toFeeConfig(), nil
}

func (fc fileConfig) toFeeConfig() fee.Config {
	blocks := make([]fee.BlockConfig, len(fc.Blocks))
	for i, b := range fc.Blocks {
		blocks[i] = fee.BlockConfig{
			Number:       b.Number,
			Size:         b.Size,
			ClusterGroup: b.ClusterGroup,
			Immediate:    b.Immediate,
		}
	}

	groups := make([]fee.ClusterGroupConfig, len(fc.Groups))
	for i, g := range fc.Groups {
		clusters := make([]fee.Cluster, len(g.Clusters))
		for j, cl := range g.Clusters {
			clusters[j] = fee.Cluster{StartAddr: cl.StartAddr, Length: cl.Length}
		}
		groups[i] = fee.ClusterGroupConfig{Clusters: clusters, ReservedSize: g.ReservedSize}
	}

	return fee.Config{Blocks: blocks, Groups: groups}
}

// Format re-encodes cfg as indented JSON, for `feesim` diagnostics and for
// round-tripping a config a caller built programmatically.
func Format(cfg fee.Config) (string, error) {
	fc := fileConfig{
		Blocks: make([]fileBlock, len(cfg.Blocks)),
		Groups: make([]fileGroup, len(cfg.Groups)),
	}
	for i, b := range cfg.Blocks {
		fc.Blocks[i] = fileBlock{Number: b.Number, Size: b.Size, ClusterGroup: b.ClusterGroup, Immediate: b.Immediate}
	}
	for i, g := range cfg.Groups {
		clusters := make([]fileCluster, len(g.Clusters))
		for j, cl := range g.Clusters {
			clusters[j] = fileCluster{StartAddr: cl.StartAddr, Length: cl.Length}
		}
		fc.Groups[i] = fileGroup{Clusters: clusters, ReservedSize: g.ReservedSize}
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("feeconfig: format: %w", err)
	}
	return string(data), nil
}
