package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"blksched/internal/sched"
	"blksched/internal/trace"
)

var (
	traceLimit   int
	traceSummary bool
)

var traceCmd = &cobra.Command{
	Use:   "trace [file]",
	Short: "Inspect a recorded event trace",
	Long: `Decode and display a trace recorded with 'simulate --trace-file'.
Compression is detected from the file extension (.gz, .zst).

Examples:
  # Print the last 50 events
  blksched trace run.trace.zst --limit 50

  # Per-event-kind totals only
  blksched trace run.trace.zst --summary`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrace(args[0])
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().IntVar(&traceLimit, "limit", 0, "Show only the last n events (0 = all)")
	traceCmd.Flags().BoolVar(&traceSummary, "summary", false, "Show per-kind totals instead of events")
}

func runTrace(path string) error {
	events, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("Trace is empty.")
		return nil
	}

	if traceSummary {
		printTraceSummary(events)
		return nil
	}

	show := events
	if traceLimit > 0 && len(show) > traceLimit {
		show = show[len(show)-traceLimit:]
	}

	base := events[0].Time
	fmt.Printf("%-12s %-12s %-8s %12s %6s %-5s %s\n",
		"OFFSET", "KIND", "QUEUE", "SECTOR", "NR", "DIR", "FLAGS")
	for _, ev := range show {
		flags := ""
		if ev.Error {
			flags = "error"
		}
		fmt.Printf("%-12s %-12s %-8s %12d %6d %-5s %s\n",
			ev.Time.Sub(base).Round(time.Microsecond),
			ev.Kind, ev.Queue, ev.Sector, ev.Nr, ev.Dir, flags)
	}
	if len(show) < len(events) {
		fmt.Printf("\n(%s earlier events not shown)\n", humanize.Comma(int64(len(events)-len(show))))
	}
	return nil
}

func printTraceSummary(events []sched.Event) {
	counts := map[sched.EventKind]int{}
	errors := 0
	for _, ev := range events {
		counts[ev.Kind]++
		if ev.Error {
			errors++
		}
	}

	span := events[len(events)-1].Time.Sub(events[0].Time)
	fmt.Printf("Events:   %s over %s\n", humanize.Comma(int64(len(events))), span.Round(time.Millisecond))
	for k := sched.EvInsert; k <= sched.EvBarrier; k++ {
		if counts[k] > 0 {
			fmt.Printf("  %-12s %s\n", k, humanize.Comma(int64(counts[k])))
		}
	}
	if errors > 0 {
		fmt.Printf("  %-12s %s\n", "errors", humanize.Comma(int64(errors)))
	}
}
