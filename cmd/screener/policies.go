package main

import (
	"fmt"
	"math"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"screener/internal/engine"
)

func newPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the built-in grading policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			table := tablewriter.NewTable(out,
				tablewriter.WithHeader([]string{"Policy", "A: change >", "A: ATR% >", "A: vol ratio >", "B: change >", "B: ATR% >"}),
			)
			for _, p := range engine.Policies() {
				table.Append([]string{
					p.Name,
					thresholdString(p.AChange),
					thresholdString(p.AVol),
					thresholdString(p.AVolumeRatio),
					thresholdString(p.BChange),
					thresholdString(p.BVol),
				})
			}
			table.Render()
			fmt.Fprintf(out, "\nDefault: %s. Grade C is any positive change; everything else is No Grade.\n", engine.DefaultPolicy().Name)
			return nil
		},
	}
}

func thresholdString(v float64) string {
	if math.IsInf(v, -1) {
		return "off"
	}
	return fmt.Sprintf("%.1f", v)
}
