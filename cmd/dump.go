package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use: "dump [file]",
	Short: "Write a sealed snapshot of every account's tokenstate",
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

// runDump sends the "dump:" request and writes back whatever the daemon
// returns verbatim: unlike every other command, a successful dump reply is
// the raw sealed bytes with no "ok:"/"error:" framing (internal/controlsocket
// only frames the failure case), so it cannot go through replyError.
func runDump(cmd *cobra.Command, args []string) error {
	path, err := socketPath()
	if err != nil {
		return err
	}

	data, err := dumpRequest(path)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(args[0], data, 0600)
}

// dumpRequest is split out from runDump so it can be reused without going
// through sendRequest's string-oriented API, since a dump reply may contain
// arbitrary bytes including ':' and non-UTF8 sequences.
func dumpRequest(path string) ([]byte, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to pizauth daemon at %s: %w", path, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(clientDeadline)); err != nil {
		return nil, fmt.Errorf("setting control socket deadline: %w", err)
	}
	if _, err := conn.Write([]byte("dump:")); err != nil {
		return nil, fmt.Errorf("writing control socket request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("half-closing control socket request: %w", err)
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading control socket response: %w", err)
	}
	if bytes.HasPrefix(resp, []byte("error:")) {
		return nil, fmt.Errorf("%s", bytes.TrimPrefix(resp, []byte("error:")))
	}
	return resp, nil
}
