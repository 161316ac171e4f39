package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/toolguard/internal/client"
	"github.com/charmbracelet/toolguard/internal/server"
	"github.com/spf13/cobra"
)

func init() {
	eventsCmd.Flags().String("host", "", "Socket of the server to follow (default is the per-user socket)")
	eventsCmd.Flags().Bool("json", false, "Print events as JSON lines")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow hook executions on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		host, err := hostAddr(cmd)
		if err != nil {
			return err
		}
		if host == "" {
			host = server.DefaultAddr()
		}

		c, err := client.NewClient("unix", host)
		if err != nil {
			return err
		}
		defer c.Close()

		events, err := c.SubscribeEvents(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for ev := range events {
			if asJSON {
				bts, err := json.Marshal(ev.Payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(bts))
				continue
			}
			e := ev.Payload
			status := string(e.State)
			switch {
			case e.Rejected:
				status = failStyle.Render("rejected")
			case e.Error != "":
				status = failStyle.Render(status)
			default:
				status = okStyle.Render(status)
			}
			lipgloss.Fprintf(w, "%s %s:%s %s %s %s\n",
				mutedStyle.Render(time.Now().Format(time.TimeOnly)),
				e.Phase, e.Tool, patternStyle.Render(e.Hook), status,
				mutedStyle.Render(e.Duration.Round(time.Millisecond).String()),
			)
		}
		return nil
	},
}
