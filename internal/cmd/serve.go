package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/pubsub"
	"github.com/charmbracelet/toolguard/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().String("host", "", "Unix socket to listen on (default is the per-user socket)")
	serveCmd.Flags().Bool("stdio", false, "Serve JSON-RPC on stdin and stdout instead of a socket")
	serveCmd.Flags().Bool("detach", false, "Start the server in the background and exit")
	serveCmd.MarkFlagsMutuallyExclusive("stdio", "detach")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolguard server",
	Long: heredoc.Doc(`
		Start a server that runs hook chains for agents. By default it serves
		HTTP on a per-user Unix socket. With --stdio it speaks JSON-RPC 2.0,
		framed with Content-Length headers, on stdin and stdout.
	`),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		useStdio, _ := cmd.Flags().GetBool("stdio")
		detach, _ := cmd.Flags().GetBool("detach")

		host, err := hostAddr(cmd)
		if err != nil {
			return err
		}
		if host == "" {
			host = server.DefaultAddr()
		}

		if detach {
			return startDetached(cmd, host)
		}

		s, err := setupConfig(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		broker := pubsub.NewBroker[hooks.Event]()
		defer broker.Shutdown()

		mgr, err := s.newManager(hooks.WithEvents(broker))
		if err != nil {
			return err
		}

		srv := server.NewServer(mgr, "unix", host,
			server.WithLogger(s.logger),
			server.WithConfig(s.cfg),
			server.WithEvents(broker),
		)

		if useStdio {
			return serveStdio(cmd.Context(), srv, s.logger)
		}
		return serveSocket(cmd.Context(), srv, s.logger)
	},
}

func serveSocket(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	logger.Info("Starting toolguard server...", "addr", srv.Addr)

	errch := make(chan error, 1)
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, addSignals([]os.Signal{os.Interrupt})...)
	defer signal.Stop(sigch)

	go func() {
		errch <- srv.ListenAndServe()
	}()

	select {
	case <-sigch:
		logger.Info("Received interrupt signal...")
	case <-ctx.Done():
	case err := <-errch:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			_ = srv.Close()
			logger.Error("Server error", "error", err)
			return fmt.Errorf("server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down...")

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %v", err)
	}
	return nil
}

// stdio joins the process's standard streams into one connection.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return errors.Join(os.Stdin.Close(), os.Stdout.Close())
}

func serveStdio(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	logger.Debug("Serving JSON-RPC on stdio")

	ctx, stop := signal.NotifyContext(ctx, addSignals([]os.Signal{os.Interrupt})...)
	defer stop()

	errch := make(chan error, 1)
	go func() {
		errch <- srv.ServeConn(ctx, stdio{Reader: os.Stdin, Writer: os.Stdout})
	}()

	select {
	case err := <-errch:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// A read blocked on a terminal does not always end when stdin is closed.
	select {
	case <-errch:
	case <-time.After(shutdownTimeout):
		logger.Warn("Timed out waiting for the connection to close")
	}
	return nil
}

// startDetached re-executes the serve command in a new session with its
// output sent to log files next to the socket.
func startDetached(cmd *cobra.Command, host string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable: %w", err)
	}

	args := []string{"serve", "--host", host}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "detach", "host":
			return
		}
		for _, v := range flagValues(f) {
			args = append(args, "--"+f.Name+"="+v)
		}
	})

	stdoutPath, stderrPath := host+".out", host+".err"

	c := exec.Command(exe, args...)
	c.Env = os.Environ()
	if err := detachProcess(c, stdoutPath, stderrPath); err != nil {
		return fmt.Errorf("failed to prepare server process: %w", err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	for _, w := range []io.Writer{c.Stdout, c.Stderr} {
		if f, ok := w.(*os.File); ok {
			_ = f.Close()
		}
	}
	pid := c.Process.Pid
	_ = c.Process.Release()

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Started toolguard server (pid %d) on %s\nLogs: %s\n", pid, host, stderrPath)
	return err
}

// flagValues returns the values to pass again for f, one per occurrence for
// repeatable flags.
func flagValues(f *pflag.Flag) []string {
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return sv.GetSlice()
	}
	return []string{f.Value.String()}
}
