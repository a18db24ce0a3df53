// Package laneconfig implements lane lifecycle classification and lane
// occupancy checks (spec.md §4.8). Lane definitions and lifecycle status
// live in the repository's lumenflow.yaml, generalizing the Concern-chain
// config in internal/config/config.go (Settings/BuildDownstreamMap/
// FindRoots/detectCycles) from a DAG of agent concerns into a lane
// occupancy/lifecycle model.
package laneconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Status is the closed enum of lane lifecycle states (spec.md §4.8).
type Status string

const (
	StatusUnconfigured Status = "unconfigured"
	StatusDraft        Status = "draft"
	StatusLocked       Status = "locked"
)

// Definition describes one lane (spec.md GLOSSARY "Lane lifecycle").
type Definition struct {
	Name      string   `yaml:"name"`
	WipLimit  int      `yaml:"wip_limit,omitempty"`
	CodePaths []string `yaml:"code_paths,omitempty"`
}

// Lifecycle is the persisted classification plus migration provenance.
type Lifecycle struct {
	Status          Status `yaml:"status"`
	UpdatedAt       string `yaml:"updated_at,omitempty"`
	MigratedAt      string `yaml:"migrated_at,omitempty"`
	MigrationReason string `yaml:"migration_reason,omitempty"`
}

// Lanes is the `lanes` top-level key of lumenflow.yaml.
type Lanes struct {
	Definitions []Definition `yaml:"definitions,omitempty"`
	Lifecycle   Lifecycle    `yaml:"lifecycle,omitempty"`
}

// Config is the root of lumenflow.yaml.
type Config struct {
	Lanes Lanes `yaml:"lanes"`
}

// Load reads lumenflow.yaml. A missing file returns a zero Config, not an
// error — an unconfigured repository has no lumenflow.yaml at all.
func Load(layout paths.Layout) (*Config, error) {
	data, err := os.ReadFile(layout.LumenflowConfigFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading lumenflow.yaml: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing lumenflow.yaml: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg back to lumenflow.yaml.
func Save(layout paths.Layout, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling lumenflow.yaml: %w", err)
	}
	return os.WriteFile(layout.LumenflowConfigFile(), data, 0o644)
}

// hasInferenceFile reports whether any recognised lane-inference file
// exists in the config directory.
func hasInferenceFile(layout paths.Layout) bool {
	for _, ext := range []string{"yaml", "yml", "json"} {
		if _, err := os.Stat(layout.LaneInferenceFile(ext)); err == nil {
			return true
		}
	}
	return false
}

// Classify derives the lane lifecycle status purely from on-disk artifacts
// (spec.md §4.8): no lumenflow.yaml and no inference file is unconfigured;
// lane definitions present without an inference file (or vice versa) is
// draft; both definitions and an inference file present is locked. An
// inference file counts once it exists: its contents are not parsed or
// checked.
func Classify(layout paths.Layout) (Status, error) {
	_, err := os.Stat(layout.LumenflowConfigFile())
	configExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("stat lumenflow.yaml: %w", err)
	}
	inferenceExists := hasInferenceFile(layout)

	if !configExists && !inferenceExists {
		return StatusUnconfigured, nil
	}

	cfg, err := Load(layout)
	if err != nil {
		return "", err
	}
	if len(cfg.Lanes.Definitions) > 0 && inferenceExists {
		return StatusLocked, nil
	}
	return StatusDraft, nil
}

// Persist writes lanes.lifecycle with a fresh updated_at, and — when the
// transition was inferred rather than explicit — migrated_at and
// migration_reason (spec.md §4.8).
func Persist(layout paths.Layout, status Status, migrationReason string, now time.Time) error {
	cfg, err := Load(layout)
	if err != nil {
		return err
	}
	cfg.Lanes.Lifecycle.Status = status
	cfg.Lanes.Lifecycle.UpdatedAt = now.UTC().Format(time.RFC3339)
	if migrationReason != "" {
		cfg.Lanes.Lifecycle.MigratedAt = now.UTC().Format(time.RFC3339)
		cfg.Lanes.Lifecycle.MigrationReason = migrationReason
	}
	return Save(layout, cfg)
}

// RequireLocked returns an error unless the lane lifecycle is locked.
// Delivery WU creation requires locked; initiative creation does not call
// this (spec.md §4.8: "initiative creation is allowed from any state").
func RequireLocked(layout paths.Layout) error {
	status, err := Classify(layout)
	if err != nil {
		return err
	}
	if status != StatusLocked {
		return fmt.Errorf("lane configuration is %s, delivery WU creation requires locked", status)
	}
	return nil
}

// OccupancyConflict describes a lane-occupancy violation found by
// CheckOccupancy.
type OccupancyConflict struct {
	WuID          string
	LaneBranch    string
	WorktreePath  string
}

// CheckOccupancy scans every WU YAML in the repository for one in the same
// lane, other than excludeWuID, whose status is done but whose worktree or
// lane branch still exists (spec.md §4.8: "refuses until cleaned"). Returns
// nil if the lane is clear to claim.
func CheckOccupancy(layout paths.Layout, repo *gitops.Repo, lane, excludeWuID string) (*OccupancyConflict, error) {
	entries, err := os.ReadDir(layout.WUDirPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading WU dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "TEMPLATE.yaml" {
			continue
		}
		other, err := wu.Load(layout.WUFile(trimYAMLExt(entry.Name())))
		if err != nil {
			continue
		}
		if other.ID == excludeWuID || other.Lane != lane || other.Status != wu.StatusDone {
			continue
		}

		branch := other.ClaimedBranch
		if branch == "" {
			branch = other.LaneBranch()
		}
		worktreeStillThere := other.WorktreePath != "" && dirExists(other.WorktreePath)
		branchStillThere := repo.BranchExists(branch)
		if worktreeStillThere || branchStillThere {
			return &OccupancyConflict{WuID: other.ID, LaneBranch: branch, WorktreePath: other.WorktreePath}, nil
		}
	}
	return nil, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func trimYAMLExt(name string) string {
	for _, ext := range []string{".yaml", ".yml"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
