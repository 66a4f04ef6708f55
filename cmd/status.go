package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use: "status",
	Short: "Show every account's tokenstate",
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}
	resp, err := sendRequest(path, "status:")
	if err != nil {
		return err
	}
	if err := replyError(resp); err != nil {
		return err
	}

	_, payload := splitReply(resp)
	lines := strings.Split(strings.TrimRight(payload, "\n"), "\n")

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		for _, line := range lines {
			if line != "" {
				fmt.Println(line)
			}
		}
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Account", "State"})
	for _, line := range lines {
		if line == "" {
			continue
		}
		name, state, ok := strings.Cut(line, ": ")
		if !ok {
			t.AppendRow(table.Row{line, ""})
			continue
		}
		t.AppendRow(table.Row{name, state})
	}
	t.Render()
	return nil
}
