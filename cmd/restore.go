package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use: "restore <file>",
	Short: "Restore tokenstate from a sealed dump file",
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	resp, err := sendRequest(path, "restore:"+string(data))
	if err != nil {
		return err
	}
	return replyError(resp)
}
