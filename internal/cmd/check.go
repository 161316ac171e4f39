package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/home"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	patternStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and hook scripts",
	Long: heredoc.Doc(`
		Load the configuration, validate the hook table and make sure every hook
		script exists and is executable. Exits non-zero when anything is wrong.
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := setupConfig(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		mgr, err := s.newManager()
		if err != nil {
			return err
		}

		table := mgr.Hooks()
		if len(table) == 0 {
			_, err := lipgloss.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No hooks configured."))
			return err
		}

		reports := checkScripts(cmd, table)
		if err := printReport(cmd.OutOrStdout(), table, reports); err != nil {
			return err
		}

		var failed int
		for _, r := range reports {
			if r.err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d hook scripts failed the check", failed, len(reports))
		}
		return nil
	},
}

// scriptReport is the outcome of checking one hook script.
type scriptReport struct {
	path string
	size int64
	err  error
}

// checkScripts stats every distinct script of the table concurrently.
func checkScripts(cmd *cobra.Command, table []hooks.PatternHooks) map[string]scriptReport {
	var scripts []string
	seen := map[string]bool{}
	for _, p := range table {
		for _, h := range p.Hooks {
			if !seen[h.Script] {
				seen[h.Script] = true
				scripts = append(scripts, h.Script)
			}
		}
	}

	results := make([]scriptReport, len(scripts))
	var g errgroup.Group
	g.SetLimit(8)
	for i, script := range scripts {
		g.Go(func() error {
			results[i] = checkScript(script)
			return nil
		})
	}
	_ = g.Wait()

	reports := make(map[string]scriptReport, len(scripts))
	for i, script := range scripts {
		reports[script] = results[i]
	}
	return reports
}

func checkScript(script string) scriptReport {
	path := script
	if !strings.ContainsRune(script, filepath.Separator) && !strings.Contains(script, "/") {
		found, err := exec.LookPath(script)
		if err != nil {
			return scriptReport{path: script, err: fmt.Errorf("not found in PATH")}
		}
		path = found
	}

	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return scriptReport{path: path, err: fmt.Errorf("does not exist")}
	case err != nil:
		return scriptReport{path: path, err: err}
	case fi.IsDir():
		return scriptReport{path: path, err: fmt.Errorf("is a directory")}
	case runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0:
		return scriptReport{path: path, size: fi.Size(), err: fmt.Errorf("is not executable")}
	}
	return scriptReport{path: path, size: fi.Size()}
}

func printReport(w io.Writer, table []hooks.PatternHooks, reports map[string]scriptReport) error {
	for _, p := range table {
		if _, err := lipgloss.Fprintln(w, patternStyle.Render(p.Pattern)); err != nil {
			return err
		}
		for _, h := range p.Hooks {
			r := reports[h.Script]
			mark := okStyle.Render("✓")
			detail := humanize.Bytes(uint64(r.size))
			if r.err != nil {
				mark = failStyle.Render("✗")
				detail = failStyle.Render(r.err.Error())
			}
			transform := ""
			if h.Transform {
				transform = ", transform"
			}
			line := fmt.Sprintf("  %s %s %s %s",
				mark,
				h.Name,
				home.Short(r.path),
				mutedStyle.Render(fmt.Sprintf("(%s, %s, %s%s)", detail, h.FailMode, h.Timeout, transform)),
			)
			if _, err := lipgloss.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
