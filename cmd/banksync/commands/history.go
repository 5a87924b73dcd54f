package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [--limit n]",
		Short: "Prints the most recent export runs from the journal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Started", "Bank", "Account", "Range", "Outcome", "Rows", "Failure", "Output"})
			for _, run := range runs {
				failure := run.FailureKind
				if run.Reason != "" {
					failure = fmt.Sprintf("%s(%s)", failure, run.Reason)
				}
				if run.Message != "" {
					failure = fmt.Sprintf("%s: %s", failure, run.Message)
				}
				t.AppendRow(table.Row{
					run.StartedAt.Local().Format(time.DateTime),
					run.Bank,
					run.AccountIndex,
					fmt.Sprintf("%s..%s", run.From.Format(time.DateOnly), run.To.Format(time.DateOnly)),
					run.Outcome,
					run.Rows,
					failure,
					run.Output,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "The number of runs to show, 0 shows all.")
	return cmd
}
