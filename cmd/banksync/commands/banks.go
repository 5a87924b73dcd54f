package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newBanksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "Lists the supported banks.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Id", "Name", "Variant", "Portal", "Throttle", "Challenge"})
			for _, desc := range current.registry.List() {
				portal := desc.BaseURL
				if portal == "" {
					portal = "--base"
				}
				challenge := "no"
				if desc.HasChallenge() {
					challenge = "yes"
				}
				t.AppendRow(table.Row{
					desc.Id,
					desc.Name,
					desc.Variant,
					portal,
					fmt.Sprintf("%s-%s", desc.Throttle.Min(), desc.Throttle.Max()),
					challenge,
				})
			}
			t.Render()
			return nil
		},
	}
}
