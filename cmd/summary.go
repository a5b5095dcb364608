package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/wildfire-cli/internal/model"
)

var summaryFormat string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show centers per state and stored incidents per center",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		states, err := st.StateSummary(ctx)
		if err != nil {
			return err
		}
		counts, err := st.CenterIncidentCounts(ctx)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summaryFormat, states, counts, nil)
	},
}

type summaryDoc struct {
	States  []model.StateCount  `json:"states" yaml:"states"`
	Centers []model.CenterCount `json:"centers,omitempty" yaml:"centers,omitempty"`
	Run     *model.RunSummary   `json:"run,omitempty" yaml:"run,omitempty"`
}

func printSummary(w io.Writer, format string, states []model.StateCount, counts []model.CenterCount, run *model.RunSummary) error {
	doc := summaryDoc{States: states, Centers: counts, Run: run}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(doc), "encode summary")
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(doc), "encode summary")
	case "text", "":
	default:
		return eris.Errorf("unknown format %q (want text, json or yaml)", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if run != nil {
		fmt.Fprintf(tw, "Centers found:\t%d\n", run.CentersFound)
		fmt.Fprintf(tw, "Centers processed:\t%d\n", len(run.Centers))
		fmt.Fprintf(tw, "Incidents stored:\t%d\n", run.IncidentsStored())
		fmt.Fprintf(tw, "Elapsed:\t%s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
		fmt.Fprintln(tw, "CENTER\tSTRATEGY\tPROCESSED\tEXPECTED\tATTEMPTS\tSTORED\tCOMPLETE")
		for _, c := range run.Centers {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
				c.Code, c.Strategy, c.Processed, c.Expected, c.Attempts, c.Stored, c.Complete)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintln(tw, "STATE\tCENTERS")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%d\n", s.State, s.Centers)
	}
	if len(counts) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "CENTER\tNAME\tSTATE\tINCIDENTS")
		for _, c := range counts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Code, c.Name, c.State, c.Incidents)
		}
	}
	return tw.Flush()
}

func init() {
	summaryCmd.Flags().StringVar(&summaryFormat, "format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(summaryCmd)
}
