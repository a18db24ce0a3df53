// Package paths is the single factory for every on-disk artifact location
// LumenFlow reads or writes. No other package should join path segments by
// hand — that keeps the layout in spec.md §6 centralized and renameable.
package paths

import (
	"os"
	"path/filepath"
)

// Layout holds the configurable root directories for a repository's
// LumenFlow artifacts. Zero value resolves to the default layout rooted
// at the repository root.
type Layout struct {
	RepoDir string

	// Overrides; empty means "use the default relative to RepoDir".
	WUDir         string
	StampsDir     string
	StateDir      string
	MemoryDir     string
	OperationsDir string
	ConfigDir     string
	WorktreesDir  string
}

// Default returns the standard layout for a repository root.
func Default(repoDir string) Layout {
	return Layout{RepoDir: repoDir}
}

func (l Layout) join(override, def string) string {
	if override != "" {
		return override
	}
	return filepath.Join(l.RepoDir, def)
}

// WUDir is where `WU-<N>.yaml` files live.
func (l Layout) WUDirPath() string { return l.join(l.WUDir, filepath.Join("wu")) }

// WUFile returns the path to a specific WU's YAML spec.
func (l Layout) WUFile(id string) string {
	return filepath.Join(l.WUDirPath(), id+".yaml")
}

// StampsDirPath is where `<WU-N>.done` stamp files live.
func (l Layout) StampsDirPath() string {
	return l.join(l.StampsDir, filepath.Join(".lumenflow", "stamps"))
}

// StampFile returns the path to a WU's stamp file.
func (l Layout) StampFile(id string) string {
	return filepath.Join(l.StampsDirPath(), id+".done")
}

// StateDirPath is where the event log and recovery markers live.
func (l Layout) StateDirPath() string {
	return l.join(l.StateDir, filepath.Join(".lumenflow", "state"))
}

// EventLogFile returns the path to the append-only event log.
func (l Layout) EventLogFile() string {
	return filepath.Join(l.StateDirPath(), "wu-events.jsonl")
}

// RecoveryDirPath is where per-WU zombie-recovery counters live.
func (l Layout) RecoveryDirPath() string {
	return filepath.Join(l.StateDirPath(), "recovery")
}

// RecoveryFile returns the path to a WU's recovery marker.
func (l Layout) RecoveryFile(id string) string {
	return filepath.Join(l.RecoveryDirPath(), id+".recovery")
}

// MemoryDirPath is where signals and signal receipts live.
func (l Layout) MemoryDirPath() string {
	return l.join(l.MemoryDir, filepath.Join(".lumenflow", "memory"))
}

// SignalsFile returns the path to the append-only signal log.
func (l Layout) SignalsFile() string {
	return filepath.Join(l.MemoryDirPath(), "signals.jsonl")
}

// SignalReceiptsFile returns the path to the append-only receipt log.
func (l Layout) SignalReceiptsFile() string {
	return filepath.Join(l.MemoryDirPath(), "signal-receipts.jsonl")
}

// OperationsDirPath is where backlog.md and status.md live.
func (l Layout) OperationsDirPath() string {
	return l.join(l.OperationsDir, filepath.Join("operations"))
}

// BacklogFile returns the path to backlog.md.
func (l Layout) BacklogFile() string { return filepath.Join(l.OperationsDirPath(), "backlog.md") }

// StatusFile returns the path to status.md.
func (l Layout) StatusFile() string { return filepath.Join(l.OperationsDirPath(), "status.md") }

// ConfigDirPath is where lane-inference config lives.
func (l Layout) ConfigDirPath() string {
	return l.join(l.ConfigDir, filepath.Join(".lumenflow", "config"))
}

// LaneInferenceFile returns the path to the lane-inference config.
func (l Layout) LaneInferenceFile(ext string) string {
	return filepath.Join(l.ConfigDirPath(), "lane-inference."+ext)
}

// LumenflowConfigFile returns the path to the repo-root lumenflow.yaml.
func (l Layout) LumenflowConfigFile() string {
	return filepath.Join(l.RepoDir, "lumenflow.yaml")
}

// InitiativesDirPath is where initiative YAML files live.
func (l Layout) InitiativesDirPath() string {
	return filepath.Join(l.RepoDir, "initiatives")
}

// InitiativeFile returns the path to a named initiative's YAML file.
func (l Layout) InitiativeFile(name string) string {
	return filepath.Join(l.InitiativesDirPath(), name+".yaml")
}

// WorktreesDirPath is where ephemeral and lane worktrees are checked out.
func (l Layout) WorktreesDirPath() string {
	return l.join(l.WorktreesDir, filepath.Join(".lumenflow", "worktrees"))
}

// WorktreePath returns the expected worktree path for a lane+WU pair.
func (l Layout) WorktreePath(laneKebab, wuIDLower string) string {
	return filepath.Join(l.WorktreesDirPath(), laneKebab+"-"+wuIDLower)
}

// EnsureDir creates a directory and all parents with 0755 permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
