package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var refreshShowURL bool

var refreshCmd = &cobra.Command{
	Use: "refresh <account>",
	Short: "Force a refresh of an account's access token",
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshShowURL, "url", false, "print the authorization URL if the account needs authorizing")
	rootCmd.AddCommand(refreshCmd)
}

// pollInterval is how often the CLI re-polls showtoken while a spinner is
// displayed waiting for an interactive authorization to complete.
const pollInterval = 500 * time.Millisecond

func runRefresh(cmd *cobra.Command, args []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	name := args[0]

	reqKind := "withouturl"
	if refreshShowURL {
		reqKind = "withurl"
	}
	resp, err := sendRequest(path, "refresh:"+reqKind+" "+name)
	if err != nil {
		return err
	}
	if err := replyError(resp); err != nil {
		return err
	}

	status, payload := splitReply(resp)
	switch status {
	case "scheduled":
		fmt.Println("refresh scheduled")
		return nil
	case "pending":
		if refreshShowURL && payload != "" {
			fmt.Println("Please authorize at:", payload)
		}
		return waitForToken(path, name)
	default:
		return fmt.Errorf("unexpected reply from daemon: %s", resp)
	}
}

// waitForToken polls showtoken until the account's access token becomes
// available, showing a spinner in the meantime.
func waitForToken(path, name string) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " waiting for authorization to complete..."
	s.Start()
	defer s.Stop()

	for {
		resp, err := sendRequest(path, "showtoken:withouturl "+name)
		if err != nil {
			return err
		}
		status, payload := splitReply(resp)
		switch status {
		case "access_token":
			s.Stop()
			fmt.Println("access_token:" + payload)
			return nil
		case "error":
			s.Stop()
			return fmt.Errorf("%s", payload)
		case "pending":
			time.Sleep(pollInterval)
		default:
			s.Stop()
			return fmt.Errorf("unexpected reply from daemon: %s", resp)
		}
	}
}
