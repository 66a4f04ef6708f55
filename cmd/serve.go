package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pizauth/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use: "serve",
	Short: "Run the pizauth daemon in the foreground",
	Long: `Runs the pizauth daemon: binds the OAuth callback listener(s) and the
control socket, and serves refresh/notify/token-event requests until
stopped by SIGINT, SIGTERM, or the "shutdown" control command.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, err := configPath()
	if err != nil {
		return err
	}
	sockPath, err := socketPath()
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Options{ConfigPath: cfgPath, SocketPath: sockPath})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil && daemon.Is(err, daemon.Fatal) {
		return fmt.Errorf("pizauth daemon exited: %w", err)
	}
	return nil
}
