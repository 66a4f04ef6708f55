// Package cmd implements the pizauth CLI: a cobra application whose
// subcommands are thin control-socket clients, plus the "serve" subcommand
// that runs the daemon itself.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes. Mirrors a similar precedent's semantic-exit-code convention,
// narrowed to the kinds this CLI's control-socket protocol actually
// distinguishes.
const (
	ExitCodeSuccess = 0
	ExitCodeError = 1
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use: "pizauth",
	Short: "A local OAuth2 token-broker daemon",
	Long: `pizauth runs as a background daemon, performing OAuth2 authorization-code
exchanges and refreshes on behalf of other local processes, which retrieve
live access tokens over a control socket instead of each implementing
their own OAuth client.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected from main at
// build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Called from main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pizauth %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pizauth:", err)
		os.Exit(ExitCodeError)
	}
	os.Exit(ExitCodeSuccess)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, "config", "c", "", "path to the pizauth config file (default $XDG_CONFIG_HOME/pizauth.conf or $HOME/.config/pizauth.conf)")
}
