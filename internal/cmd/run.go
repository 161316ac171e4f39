package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/toolguard/internal/client"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/spf13/cobra"
)

func init() {
	runCmd.Flags().StringP("phase", "p", string(hooks.PhaseBefore), "Chain to run: before or after")
	runCmd.Flags().StringP("tool", "t", "", "Name of the tool being called")
	runCmd.Flags().String("context", "", "JSON context passed to every hook")
	runCmd.Flags().String("host", "", "Run the chain on the server listening on this socket")
	_ = runCmd.MarkFlagRequired("tool")
}

var runCmd = &cobra.Command{
	Use:   "run [payload]",
	Short: "Run a hook chain for one tool call",
	Long: heredoc.Doc(`
		Run the before- or after-chain for a tool call and print the resulting
		JSON. The payload is the tool's parameters for the before-chain and its
		response for the after-chain. It is read from stdin when not given as an
		argument. A rejection is printed as an error and exits non-zero.
	`),
	Example: heredoc.Doc(`
		# Check a call before it is made
		toolguard run --tool bash '{"command":"rm -rf /"}'

		# Sanitize a response
		curl -s https://example.com | jq -Rs '{content: .}' | toolguard run -p after -t web_fetch

		# Use the hooks of a running server
		toolguard run --host /tmp/toolguard.sock -t web_fetch '{"url":"https://example.com"}'
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phaseName, _ := cmd.Flags().GetString("phase")
		tool, _ := cmd.Flags().GetString("tool")
		hookCtx, _ := cmd.Flags().GetString("context")

		phase := hooks.Phase(phaseName)
		if phase != hooks.PhaseBefore && phase != hooks.PhaseAfter {
			return fmt.Errorf("invalid phase %q: must be %q or %q", phaseName, hooks.PhaseBefore, hooks.PhaseAfter)
		}

		payload, err := readPayload(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		data := rawJSON(payload)
		if data == nil {
			data = json.RawMessage("{}")
		}

		host, err := hostAddr(cmd)
		if err != nil {
			return err
		}

		var out json.RawMessage
		if host != "" {
			out, err = runRemote(cmd, host, phase, tool, data, rawJSON(hookCtx))
		} else {
			out, err = runLocal(cmd, phase, tool, data, rawJSON(hookCtx))
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

func runLocal(cmd *cobra.Command, phase hooks.Phase, tool string, data, hookCtx json.RawMessage) (json.RawMessage, error) {
	s, err := setupConfig(cmd)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	mgr, err := s.newManager()
	if err != nil {
		return nil, err
	}
	if phase == hooks.PhaseAfter {
		return mgr.ExecuteAfterHooks(cmd.Context(), tool, data, hookCtx)
	}
	return mgr.ExecuteBeforeHooks(cmd.Context(), tool, data, hookCtx)
}

func runRemote(cmd *cobra.Command, host string, phase hooks.Phase, tool string, data, hookCtx json.RawMessage) (json.RawMessage, error) {
	c, err := client.NewClient("unix", host)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if phase == hooks.PhaseAfter {
		return c.After(cmd.Context(), tool, data, hookCtx)
	}
	return c.Before(cmd.Context(), tool, data, hookCtx)
}

// rawJSON returns s as a raw JSON value, or nil when s is blank. Invalid
// JSON is passed through and reported by the chain.
func rawJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
