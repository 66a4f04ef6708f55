package cmd

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// clientDeadline bounds a CLI round trip over the control socket, mirroring
// internal/controlsocket's own server-side deadline.
const clientDeadline = 30 * time.Second

// sendRequest dials the control socket at path, sends req, half-closes the
// write side, and returns whatever the daemon writes back before closing
// the connection. Grounded on internal/controlsocket's own test harness,
// which dials, writes, and half-closes exactly this way against a real
// daemon.
func sendRequest(path, req string) (string, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return "", fmt.Errorf("connecting to pizauth daemon at %s: %w", path, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(clientDeadline)); err != nil {
		return "", fmt.Errorf("setting control socket deadline: %w", err)
	}

	if _, err := conn.Write([]byte(req)); err != nil {
		return "", fmt.Errorf("writing control socket request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return "", fmt.Errorf("half-closing control socket request: %w", err)
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("reading control socket response: %w", err)
	}
	return string(resp), nil
}

// splitReply splits a "<status>:<payload>" reply. Callers that expect an
// unframed reply (dump) should not use this.
func splitReply(resp string) (status, payload string) {
	i := strings.IndexByte(resp, ':')
	if i < 0 {
		return resp, ""
	}
	return resp[:i], resp[i+1:]
}

// replyError turns a "error:<msg>" reply into a Go error, or nil for any
// other status.
func replyError(resp string) error {
	status, payload := splitReply(resp)
	if status != "error" {
		return nil
	}
	return fmt.Errorf("%s", payload)
}
