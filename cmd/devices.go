package cmd

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"
)

var devicesShowIO bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the host's block devices",
	Long: `List block devices and partitions visible on this host, with I/O
counters where the platform exposes them. Informational only: blksched
schedules against its simulated device, not the real ones.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevices()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().BoolVar(&devicesShowIO, "io", false, "Include I/O counters per device")
}

func runDevices() error {
	parts, err := disk.Partitions(false)
	if err != nil {
		return fmt.Errorf("cannot enumerate partitions: %w", err)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Device < parts[j].Device })

	fmt.Printf("%-24s %-20s %-8s %s\n", "DEVICE", "MOUNT", "FSTYPE", "SIZE")
	for _, p := range parts {
		size := "-"
		if usage, err := disk.Usage(p.Mountpoint); err == nil {
			size = humanize.IBytes(usage.Total)
		}
		fmt.Printf("%-24s %-20s %-8s %s\n", p.Device, p.Mountpoint, p.Fstype, size)
	}

	if !devicesShowIO {
		return nil
	}

	counters, err := disk.IOCounters()
	if err != nil {
		log.Warn("I/O counters unavailable", "error", err)
		return nil
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%-16s %12s %12s %14s %14s %10s\n",
		"DEVICE", "READS", "WRITES", "READ BYTES", "WRITE BYTES", "MERGED")
	for _, name := range names {
		c := counters[name]
		fmt.Printf("%-16s %12d %12d %14s %14s %10d\n",
			name, c.ReadCount, c.WriteCount,
			humanize.IBytes(c.ReadBytes), humanize.IBytes(c.WriteBytes),
			c.MergedReadCount+c.MergedWriteCount)
	}
	return nil
}
