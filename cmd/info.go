package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use: "info",
	Short: "Show the daemon's bound ports and HTTPS certificate fingerprint",
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoPayload mirrors internal/controlsocket's own JSON shape.
type infoPayload struct {
	HTTPPort int `json:"http_port"`
	HTTPSPort int `json:"https_port"`
	HTTPSPubKey string `json:"https_pub_key,omitempty"`
}

func runInfo(cmd *cobra.Command, _ []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	resp, err := sendRequest(path, "info:")
	if err != nil {
		return err
	}
	if err := replyError(resp); err != nil {
		return err
	}

	_, payload := splitReply(resp)
	var info infoPayload
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return fmt.Errorf("parsing info reply: %w", err)
	}

	if info.HTTPPort != 0 {
		fmt.Printf("http_listen port: %d\n", info.HTTPPort)
	}
	if info.HTTPSPort != 0 {
		fmt.Printf("https_listen port: %d\n", info.HTTPSPort)
	}
	if info.HTTPSPubKey != "" {
		fmt.Printf("https public key: %s\n", info.HTTPSPubKey)
	}
	return nil
}
