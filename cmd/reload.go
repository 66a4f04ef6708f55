package cmd

import (
	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use: "reload",
	Short: "Ask the running daemon to re-read its config file",
	Args: cobra.NoArgs,
	RunE: runReload,
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, _ []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	resp, err := sendRequest(path, "reload:")
	if err != nil {
		return err
	}
	return replyError(resp)
}
