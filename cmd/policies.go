package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"blksched/internal/sched"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List registered scheduling policies",
	Long: `List every scheduling policy compiled into this binary, with the
tunable attributes each one exposes.

The policy marked active is the configured default for new queues.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPolicies()
	},
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

func runPolicies() error {
	names := sched.Names()
	if len(names) == 0 {
		fmt.Println("No scheduling policies registered.")
		return nil
	}

	bold := color.New(color.Bold)
	active := color.New(color.FgGreen)
	if cfg.NoColor {
		color.NoColor = true
	}

	for _, name := range names {
		t, _ := sched.Lookup(name)

		if name == cfg.Policy {
			active.Printf("  [%s]", name)
			fmt.Print(" (default)")
		} else {
			bold.Printf("  [%s]", name)
		}
		fmt.Println()
		if t.Description != "" {
			fmt.Printf("      %s\n", t.Description)
		}

		attrs, err := policyAttrs(name)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			mode := "rw"
			if a.Store == nil {
				mode = "ro"
			}
			fmt.Printf("      %-18s %6s  (%s)\n", a.Name, a.Show(), mode)
		}
		fmt.Println()
	}
	return nil
}

// policyAttrs instantiates the policy on a scratch queue to read its
// attribute defaults.
func policyAttrs(name string) ([]sched.Attr, error) {
	q, err := sched.NewQueue(sched.QueueConfig{Name: "attrs", Policy: name})
	if err != nil {
		return nil, err
	}
	defer q.Close()

	var attrs []sched.Attr
	q.ActivePolicy(func(p sched.Policy) {
		if ap, ok := p.(sched.AttrProvider); ok {
			attrs = ap.Attrs()
		}
	})
	return attrs, nil
}
