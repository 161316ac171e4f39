package cmd

import (
	"context"
	"fmt"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/toolguard/internal/update"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update-check",
	Short: "Check whether a newer toolguard release is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		info, err := update.Check(ctx, update.Default)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		switch {
		case info.IsDevelopment():
			_, err = lipgloss.Fprintln(w, mutedStyle.Render("Development build ("+info.Current+"), skipping update check."))
		case info.Available():
			_, err = lipgloss.Fprintf(w, "%s %s → %s\n%s\n",
				okStyle.Render("Update available:"),
				info.Current, info.Latest,
				mutedStyle.Render(info.ReleaseURL),
			)
		default:
			_, err = fmt.Fprintf(w, "toolguard %s is up to date.\n", info.Current)
		}
		return err
	},
}
