package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showtokenShowURL bool

var showtokenCmd = &cobra.Command{
	Use: "showtoken <account>",
	Short: "Print an account's access token, authorizing first if needed",
	Args: cobra.ExactArgs(1),
	RunE: runShowtoken,
}

func init() {
	showtokenCmd.Flags().BoolVar(&showtokenShowURL, "url", false, "print the authorization URL if the account needs authorizing")
	rootCmd.AddCommand(showtokenCmd)
}

func runShowtoken(cmd *cobra.Command, args []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	name := args[0]

	reqKind := "withouturl"
	if showtokenShowURL {
		reqKind = "withurl"
	}
	resp, err := sendRequest(path, "showtoken:"+reqKind+" "+name)
	if err != nil {
		return err
	}
	if err := replyError(resp); err != nil {
		return err
	}

	status, payload := splitReply(resp)
	switch status {
	case "access_token":
		fmt.Println("access_token:" + payload)
		return nil
	case "pending":
		if showtokenShowURL && payload != "" {
			fmt.Println("Please authorize at:", payload)
		}
		return waitForToken(path, name)
	default:
		return fmt.Errorf("unexpected reply from daemon: %s", resp)
	}
}
