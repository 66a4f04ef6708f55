package cmd

import (
	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use: "shutdown",
	Short: "Stop the running daemon",
	Args: cobra.NoArgs,
	RunE: runShutdown,
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}

func runShutdown(cmd *cobra.Command, _ []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	// The daemon closes the connection without replying , so
	// any response (including none) is success; only a dial failure is
	// an error.
	_, err = sendRequest(path, "shutdown:")
	return err
}
