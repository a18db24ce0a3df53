// Package cli is LumenFlow's thin command shell. The engine's real
// command surface (wu:create, wu:claim, wu:done, mem:signal, …) is
// explicitly out of scope (spec.md §1: "specify only interfaces") — this
// package exists to prove the engine packages compose into a runnable
// binary, not to reimplement that surface. Grounded on the rootCmd/Execute()
// shape in internal/cli/root.go.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var repoPath string

var rootCmd = &cobra.Command{
	Use:   "lumenflow",
	Short: "Per-repository Work Unit orchestrator",
	Long: `LumenFlow tracks Work Units through a lifecycle of ready, in_progress,
blocked, waiting, done, and cancelled states, using git worktrees and a
spec-branch protocol to keep concurrent lanes of work isolated until
completion.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoPath, "path", "p", ".", "Path to the repository root")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumenflow %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
