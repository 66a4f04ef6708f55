// Package controlsocket implements the control socket: a
// filesystem unix-domain stream socket accepting one framed request per
// connection from CLI clients, dispatching to the state store, the
// refresher, the notifier, the dump/restore codec, and the config
// reloader. Follows the same HTTP-handler-as-thin-dispatch
// shape (internal/server/oauth_http.go), adapted from HTTP request
// objects to this daemon's `<command>:<payload>` line framing.
package controlsocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"pizauth/internal/accountid"
	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/redirecturi"
	"pizauth/internal/requesttoken"
	"pizauth/internal/store"
	"pizauth/internal/tokenstate"
	"pizauth/pkg/logging"
)

// maxRequestBytes bounds a single request (a restore payload is the
// largest legitimate one; this is generous for any realistic account
// count).
const maxRequestBytes = 4 << 20

// connDeadline bounds how long a client connection may take to send its
// request and read its response.
const connDeadline = 30 * time.Second

// Dumper is implemented by internal/dump; kept as an interface here so
// this package doesn't need to know the encryption details.
type Dumper interface {
	Dump(s *store.Store) ([]byte, error)
	Restore(s *store.Store, data []byte) error
}

// Refresher is the subset of *refresher.Refresher the control socket
// needs, to avoid an import cycle and keep this package's surface narrow.
type Refresher interface {
	ForceRefresh(id accountid.ID)
}

// Handler dispatches one control-socket request at a time. Every field is
// required except HTTPSPubKey (empty when HTTPS is not enabled) and
// Clock (defaults to the real clock).
type Handler struct {
	Store *store.Store
	Refresher Refresher
	Dumper Dumper
	Ports redirecturi.Ports
	HTTPSPubKey string

	// Reload re-reads the config file and applies it via
	// store.Guard.UpdateConf.
	Reload func() error
	// Shutdown is invoked for the "shutdown" command; the daemon's
	// oklog/run.Group actor set reacts to it by tearing everything down.
	Shutdown func()

	Clock clock.Clock
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now()
}

// NewListener binds the control socket at path: refuses to
// start if a previous socket is reachable, otherwise unlinks and rebinds
// with owner-only permissions.
func NewListener(path string) (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("control socket %s is already in use by a running daemon", path)
	}
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding control socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("securing control socket %s: %w", path, err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled or ln is closed.
func (h *Handler) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		go h.handleConn(conn)
	}
}

func (h *Handler) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	data, err := io.ReadAll(io.LimitReader(conn, maxRequestBytes+1))
	if err != nil {
		logging.Warn("controlsocket", "reading request: %v", err)
		return
	}
	if len(data) > maxRequestBytes {
		_, _ = conn.Write(frameString("error", "request too large"))
		return
	}

	cmd, payload := splitFrame(data)
	resp, closeOnly := h.dispatch(cmd, payload)
	if closeOnly {
		return
	}
	_, _ = conn.Write(resp)
}

func splitFrame(data []byte) (cmd string, payload []byte) {
	i := bytes.IndexByte(data, ':')
	if i < 0 {
		return strings.TrimSpace(string(data)), nil
	}
	return string(data[:i]), data[i+1:]
}

func frameString(status, payload string) []byte {
	return []byte(status + ":" + payload)
}

// dispatch processes one command and returns the framed response, or
// closeOnly=true for "shutdown".
func (h *Handler) dispatch(cmd string, payload []byte) (resp []byte, closeOnly bool) {
	switch cmd {
	case "dump":
		return h.handleDump(), false
	case "info":
		return h.handleInfo(), false
	case "reload":
		return h.handleReload(), false
	case "refresh":
		return h.handleRefresh(string(payload)), false
	case "restore":
		return h.handleRestore(payload), false
	case "revoke":
		return h.handleRevoke(string(payload)), false
	case "showtoken":
		return h.handleShowToken(string(payload)), false
	case "shutdown":
		if h.Shutdown != nil {
			h.Shutdown()
		}
		return nil, true
	case "status":
		return h.handleStatus(), false
	default:
		return frameString("error", fmt.Sprintf("unknown command %q", cmd)), false
	}
}

func (h *Handler) handleDump() []byte {
	data, err := h.Dumper.Dump(h.Store)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	logging.Audit(logging.AuditEvent{Action: "dump", Outcome: outcome, Err: err})
	if err != nil {
		return frameString("error", err.Error())
	}
	return data
}

func (h *Handler) handleRestore(payload []byte) []byte {
	err := h.Dumper.Restore(h.Store, payload)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	logging.Audit(logging.AuditEvent{Action: "restore", Outcome: outcome, Err: err})
	if err != nil {
		return frameString("error", err.Error())
	}
	return frameString("ok", "")
}

type infoPayload struct {
	HTTPPort int `json:"http_port"`
	HTTPSPort int `json:"https_port"`
	HTTPSPubKey string `json:"https_pub_key,omitempty"`
}

func (h *Handler) handleInfo() []byte {
	body, err := json.Marshal(infoPayload{
		HTTPPort: h.Ports.HTTP,
		HTTPSPort: h.Ports.HTTPS,
		HTTPSPubKey: h.HTTPSPubKey,
	})
	if err != nil {
		return frameString("error", err.Error())
	}
	return frameString("ok", string(body))
}

func (h *Handler) handleReload() []byte {
	if h.Reload == nil {
		return frameString("error", "reload is not available")
	}
	if err := h.Reload(); err != nil {
		return frameString("error", err.Error())
	}
	return frameString("ok", "")
}

func (h *Handler) handleRevoke(name string) []byte {
	name = strings.TrimSpace(name)
	g := h.Store.Lock()
	id, ok := g.ValidateActName(name)
	if !ok {
		g.Unlock()
		return frameString("error", fmt.Sprintf("No account '%s'", name))
	}
	_, err := g.TokenStateReplace(id, tokenstate.NewEmpty())
	if err == nil {
		g.Emit(name, events.Revoked)
	}
	g.Unlock()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	logging.Audit(logging.AuditEvent{Action: "token_revoked", Account: name, Outcome: outcome, Err: err})
	if err != nil {
		return frameString("error", err.Error())
	}
	return frameString("ok", "")
}

func (h *Handler) handleStatus() []byte {
	g := h.Store.Lock()
	names := g.AccountNames()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := g.ValidateActName(name)
		if !ok {
			continue
		}
		ts, _ := g.TokenState(id)
		lines = append(lines, statusLine(name, ts))
	}
	g.Unlock()
	return frameString("ok", strings.Join(lines, "\n"))
}

func statusLine(name string, ts tokenstate.TokenState) string {
	switch ts.Kind {
	case tokenstate.Empty:
		return fmt.Sprintf("%s: empty", name)
	case tokenstate.Pending:
		return fmt.Sprintf("%s: pending", name)
	case tokenstate.Active:
		if ts.Active.OngoingRefresh {
			return fmt.Sprintf("%s: active (refreshing)", name)
		}
		return fmt.Sprintf("%s: active, expires %s", name, ts.Active.AccessTokenExpiry.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s: unknown", name)
	}
}

// parseWithURL splits a "withurl|withouturl <name>" payload.
func parseWithURL(payload string) (withURL bool, name string, err error) {
	fields := strings.SplitN(strings.TrimSpace(payload), " ", 2)
	if len(fields) != 2 {
		return false, "", fmt.Errorf("malformed request: want \"withurl|withouturl <name>\"")
	}
	switch fields[0] {
	case "withurl":
		withURL = true
	case "withouturl":
		withURL = false
	default:
		return false, "", fmt.Errorf("malformed request: first word must be withurl or withouturl, got %q", fields[0])
	}
	return withURL, strings.TrimSpace(fields[1]), nil
}

func (h *Handler) handleRefresh(payload string) []byte {
	withURL, name, err := parseWithURL(payload)
	if err != nil {
		return frameString("error", err.Error())
	}

	g := h.Store.Lock()
	id, ok := g.ValidateActName(name)
	if !ok {
		g.Unlock()
		return frameString("error", fmt.Sprintf("No account '%s'", name))
	}
	ts, _ := g.TokenState(id)

	switch ts.Kind {
	case tokenstate.Active:
		g.Unlock()
		if h.Refresher != nil {
			h.Refresher.ForceRefresh(id)
		}
		return frameString("scheduled", "")
	case tokenstate.Pending:
		url := ts.Pending.URL
		g.Unlock()
		if withURL {
			return frameString("pending", url)
		}
		return frameString("pending", "")
	default: // Empty
		g.Unlock()
		_, authURL, err := requesttoken.Build(h.Store, id, h.Ports)
		if err != nil {
			return frameString("error", err.Error())
		}
		if withURL {
			return frameString("pending", authURL)
		}
		return frameString("pending", "")
	}
}

func (h *Handler) handleShowToken(payload string) []byte {
	withURL, name, err := parseWithURL(payload)
	if err != nil {
		return frameString("error", err.Error())
	}

	g := h.Store.Lock()
	id, ok := g.ValidateActName(name)
	if !ok {
		g.Unlock()
		return frameString("error", fmt.Sprintf("No account '%s'", name))
	}
	ts, _ := g.TokenState(id)

	switch ts.Kind {
	case tokenstate.Active:
		active := ts.Active
		now := h.now()
		if now.Before(active.AccessTokenExpiry) {
			g.Unlock()
			return frameString("access_token", active.AccessToken)
		}
		ongoing := active.OngoingRefresh
		g.Unlock()
		if ongoing {
			return frameString("error", "access token has expired; refresh is already in progress")
		}
		return frameString("error", "access token has expired; waiting for scheduled refresh")
	case tokenstate.Pending:
		url := ts.Pending.URL
		g.Unlock()
		if withURL {
			return frameString("pending", url)
		}
		return frameString("pending", "")
	default: // Empty
		g.Unlock()
		_, authURL, err := requesttoken.Build(h.Store, id, h.Ports)
		if err != nil {
			return frameString("error", err.Error())
		}
		if withURL {
			return frameString("pending", authURL)
		}
		return frameString("pending", "")
	}
}

// ReloadFromPath is the Handler.Reload function the daemon wires up: load
// the config file at path and apply it (update_conf, §4.7).
func ReloadFromPath(s *store.Store, path string) func() error {
	return func() error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		g := s.Lock()
		g.UpdateConf(cfg)
		g.Unlock()
		return nil
	}
}
