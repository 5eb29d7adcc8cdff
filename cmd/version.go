// Package cmd - version command showing build and runtime info
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"blksched/internal/sched"
)

var versionOutputFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Long: `Display version information including:

  - blksched version, build time, and git commit
  - Go runtime version
  - Operating system and architecture
  - Compiled-in scheduling policies

Examples:
  # Show version info
  blksched version

  # JSON output for scripts
  blksched version --format json

  # Short version only
  blksched version --format short`,
	Run: runVersionCmd,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionOutputFormat, "format", "table", "Output format (table, json, short)")
}

type versionInfo struct {
	Version   string   `json:"version"`
	BuildTime string   `json:"build_time"`
	GitCommit string   `json:"git_commit"`
	GoVersion string   `json:"go_version"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	NumCPU    int      `json:"num_cpu"`
	Policies  []string `json:"policies"`
}

func runVersionCmd(cmd *cobra.Command, args []string) {
	info := versionInfo{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		GitCommit: cfg.GitCommit,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		Policies:  sched.Names(),
	}

	switch versionOutputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(info)
	case "short":
		fmt.Printf("blksched %s\n", info.Version)
	default:
		fmt.Printf("blksched %s\n", info.Version)
		fmt.Printf("  Build time:  %s\n", info.BuildTime)
		fmt.Printf("  Git commit:  %s\n", info.GitCommit)
		fmt.Printf("  Go:          %s (%s/%s, %d CPUs)\n", info.GoVersion, info.OS, info.Arch, info.NumCPU)
		fmt.Printf("  Policies:    %v\n", info.Policies)
	}
}
