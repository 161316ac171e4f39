package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/log"
	"github.com/charmbracelet/toolguard/internal/version"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringSliceP("config", "c", nil, "Configuration file to load (repeatable, merged in order)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write JSON logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("env-file", "", "Load environment variables from this file (default .env when present)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(eventsCmd)
}

var rootCmd = &cobra.Command{
	Use:   "toolguard",
	Short: "Run enforcement hooks around agent tool calls",
	Long: heredoc.Doc(`
		toolguard runs external programs before and after the tools an agent calls.
		Before-hooks can block a call or rewrite its parameters; after-hooks can
		sanitize the response. Hooks are configured per tool with glob patterns
		and run one at a time, in the order they are declared.
	`),
	Example: heredoc.Doc(`
		# Validate the configuration in the current directory
		toolguard check

		# Run the before-chain for a tool call
		echo '{"url":"https://example.com"}' | toolguard run --tool web_fetch

		# Sanitize a tool response
		toolguard run --phase after --tool web_fetch '{"content":"..."}'

		# Serve hooks to an agent over a local socket
		toolguard serve

		# Serve hooks over stdio, for agents that spawn toolguard
		toolguard serve --stdio

		# Print the configuration JSON schema
		toolguard schema
	`),
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// setup holds what every command that runs hooks needs.
type setup struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

// Close flushes the log file, if any.
func (s *setup) Close() error {
	return s.closer.Close()
}

// setupConfig loads environment files, configuration and logging. The
// returned logger also becomes the default slog logger.
func setupConfig(cmd *cobra.Command) (*setup, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	paths, err := configPaths(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	logFile, _ := cmd.Flags().GetString("log-file")
	if debug {
		cfg.Options.Debug = true
	}
	if logFile != "" {
		cfg.Options.LogFile = logFile
	}

	logger, closer, err := log.Setup(cfg.Options.LogFile, cfg.Options.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	logger.Debug("Configuration loaded", "files", paths, "patterns", cfg.Hooks.Len())

	return &setup{cfg: cfg, logger: logger, closer: closer}, nil
}

// newManager builds a hook manager from the loaded configuration.
func (s *setup) newManager(extra ...hooks.Option) (*hooks.Manager, error) {
	opts := append(managerOptions(s.cfg.Options, s.logger), extra...)
	mgr, err := hooks.New(s.cfg.Hooks, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load hooks: %w", err)
	}
	return mgr, nil
}

// managerOptions maps configuration options onto the hook manager.
func managerOptions(o config.Options, logger *slog.Logger) []hooks.Option {
	opts := []hooks.Option{hooks.WithLogger(logger)}
	if o.OutputLimit > 0 {
		opts = append(opts, hooks.WithOutputLimit(o.OutputLimit))
	}
	if len(o.AllowedScripts) > 0 {
		opts = append(opts, hooks.WithAllowedScripts(o.AllowedScripts...))
	}
	if len(o.Env) > 0 {
		opts = append(opts, hooks.WithEnv(o.Env))
	}
	if o.ChainWarnThreshold != nil {
		opts = append(opts, hooks.WithChainWarnThreshold(*o.ChainWarnThreshold))
	}
	return opts
}

// configPaths returns the files given with --config, the file named by
// TOOLGUARD_CONFIG, or the discovered defaults, in that order of precedence.
func configPaths(cmd *cobra.Command) ([]string, error) {
	paths, _ := cmd.Flags().GetStringSlice("config")
	if len(paths) > 0 {
		return paths, nil
	}
	env, err := config.ReadEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if env.ConfigPath != "" {
		return []string{env.ConfigPath}, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %v", err)
	}
	return config.DefaultPaths(cwd), nil
}

// hostAddr returns the server socket given with --host or TOOLGUARD_HOST.
func hostAddr(cmd *cobra.Command) (string, error) {
	host, _ := cmd.Flags().GetString("host")
	if host != "" {
		return host, nil
	}
	env, err := config.ReadEnvironment()
	if err != nil {
		return "", fmt.Errorf("failed to read environment: %w", err)
	}
	return env.Host, nil
}

// readPayload returns the payload given as an argument, or piped on stdin.
func readPayload(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if f, ok := stdin.(*os.File); ok {
		if term.IsTerminal(f.Fd()) {
			return "", nil
		}
	}
	bts, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(bts), nil
}
