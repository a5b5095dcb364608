package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <incident-identity>",
	Short: "Show the observation history of an incident, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		history, err := st.IncidentHistory(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(history) == 0 {
			fmt.Fprintf(out, "no history for incident %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INGESTED\tNUMBER\tNAME\tSTATUS\tACRES\tRESOURCES")
		for _, o := range history {
			acres := "-"
			if o.Acres != nil {
				acres = fmt.Sprintf("%.1f", *o.Acres)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				o.IngestedAt.UTC().Format("2006-01-02 15:04:05"), o.Number, o.Name, o.Status, acres, o.Resources)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
