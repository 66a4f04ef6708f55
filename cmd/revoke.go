package cmd

import (
	"github.com/spf13/cobra"
)

var revokeCmd = &cobra.Command{
	Use: "revoke <account>",
	Short: "Reset an account's tokenstate to empty",
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(revokeCmd)
}

func runRevoke(cmd *cobra.Command, args []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	resp, err := sendRequest(path, "revoke:"+args[0])
	if err != nil {
		return err
	}
	return replyError(resp)
}
