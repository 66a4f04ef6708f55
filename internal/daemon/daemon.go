package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/oklog/run"

	"pizauth/internal/callback"
	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/controlsocket"
	"pizauth/internal/dump"
	"pizauth/internal/events"
	"pizauth/internal/housekeeping"
	"pizauth/internal/notifier"
	"pizauth/internal/redirecturi"
	"pizauth/internal/refresher"
	"pizauth/internal/store"
	"pizauth/pkg/logging"
)

// StartupHookTimeout bounds startup_cmd, mirroring the other 30s hook
// bounds; does not give it its own value.
const StartupHookTimeout = 30 * time.Second

// Options configures a Daemon. ConfigPath and SocketPath must already be
// resolved (filesystem path-resolution rules are cmd/'s job, not
// this package's).
type Options struct {
	ConfigPath string
	SocketPath string
	Clock clock.Clock
}

// Daemon owns every long-lived resource of one pizauth run: the state
// store and its three drivers, both callback listeners, the control
// socket, the config watcher, and housekeeping. Follows the same
// top-level wiring style as a similar precedent's root command (building
// up its services before handing them to a run loop), adapted here to
// register each service as an oklog/run.Group actor instead of a similar
// precedent's ad hoc goroutine management.
type Daemon struct {
	opts Options

	clock clock.Clock

	store *store.Store
	eventer *events.Eventer
	refresher *refresher.Refresher
	notifier *notifier.Notifier
	dumper *dump.Codec
	watcher *config.Watcher
	keeper *housekeeping.Keeper

	httpListener net.Listener
	httpsListener net.Listener
	controlListener net.Listener
	callbackServer *callback.Server
	cert *callback.Cert

	handler *controlsocket.Handler
}

// New loads the config, binds every listener, and wires the drivers. It
// does not yet start anything -- call Run for that. Returns a Fatal-kind
// error if SHELL is unset or a listener cannot be bound.
func New(opts Options) (*Daemon, error) {
	if os.Getenv("SHELL") == "" {
		return nil, Wrap(Fatal, ErrMissingShell)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, Wrap(Fatal, fmt.Errorf("loading config %s: %w", opts.ConfigPath, err))
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	d := &Daemon{opts: opts, clock: clk}

	d.eventer = events.NewEventer(func() string {
		g := d.store.Lock()
		defer g.Unlock()
		return g.Config().TokenEventCmd
	})

	d.refresher = refresher.New(nil, nil, clk, nil)
	d.notifier = notifier.New(nil, clk)
	d.refresher.NotifyError = d.notifier.NotifyError

	d.store = store.New(cfg, d.eventer, d.refresher.Wake, d.notifier.Wake)
	d.refresher.Store = d.store
	d.notifier.Store = d.store

	d.dumper = dump.New(clk)

	var ports redirecturi.Ports
	if cfg.HTTPListen != "" {
		ln, err := callback.NewListener(cfg.HTTPListen)
		if err != nil {
			return nil, Wrap(Fatal, err)
		}
		d.httpListener = ln
		ports.HTTP = ln.Addr().(*net.TCPAddr).Port
	}
	if cfg.HTTPSListen != "" {
		cert, err := callback.GenerateSelfSignedCert()
		if err != nil {
			return nil, Wrap(Fatal, fmt.Errorf("generating callback TLS certificate: %w", err))
		}
		d.cert = cert
		ln, err := callback.NewTLSListener(cfg.HTTPSListen, cert)
		if err != nil {
			return nil, Wrap(Fatal, err)
		}
		d.httpsListener = ln
		ports.HTTPS = ln.Addr().(*net.TCPAddr).Port
	}

	d.callbackServer = &callback.Server{
		Store: d.store,
		Ports: ports,
		HTTPClient: http.DefaultClient,
		NotifyError: d.notifier.NotifyError,
		Now: clk.Now,
	}

	controlLn, err := controlsocket.NewListener(opts.SocketPath)
	if err != nil {
		return nil, Wrap(Fatal, err)
	}
	d.controlListener = controlLn

	var pubKey string
	if d.cert != nil {
		pubKey = d.cert.PublicKeyFingerprint
	}
	d.handler = &controlsocket.Handler{
		Store: d.store,
		Refresher: d.refresher,
		Dumper: d.dumper,
		Ports: ports,
		HTTPSPubKey: pubKey,
		Reload: controlsocket.ReloadFromPath(d.store, opts.ConfigPath),
		Clock: clk,
	}

	watcher, err := config.NewWatcher(opts.ConfigPath, func() {
		if err := d.handler.Reload(); err != nil {
			logging.Warn("daemon", "config watcher reload failed: %v", err)
		}
	})
	if err != nil {
		return nil, Wrap(Fatal, fmt.Errorf("watching config directory: %w", err))
	}
	d.watcher = watcher

	d.keeper = housekeeping.New(opts.SocketPath)

	return d, nil
}

// Run starts every actor and blocks until ctx is cancelled, a "shutdown"
// control command arrives, or one actor fails -- whichever comes first.
// Every other actor is then torn down (oklog/run.Group's behavior), giving
// the daemon one shutdown path for both SIGTERM/SIGINT and explicit
// shutdown requests.
func (d *Daemon) Run(ctx context.Context) error {
	d.runStartupCmd()

	var g run.Group

	ctx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	d.handler.Shutdown = cancel

	if d.httpListener != nil {
		srv := d.callbackServer.HTTPServer()
		g.Add(func() error {
			return srv.Serve(d.httpListener)
		}, func(error) {
			_ = srv.Close()
		})
	}
	if d.httpsListener != nil {
		srv := d.callbackServer.HTTPServer()
		g.Add(func() error {
			return srv.Serve(d.httpsListener)
		}, func(error) {
			_ = srv.Close()
		})
	}

	g.Add(func() error {
		return d.handler.Serve(ctx, d.controlListener)
	}, func(error) {
		_ = d.controlListener.Close()
	})

	g.Add(func() error {
		return d.refresher.Run(ctx)
	}, func(error) {})

	g.Add(func() error {
		return d.notifier.Run(ctx)
	}, func(error) {})

	g.Add(func() error {
		d.eventer.Run()
		return nil
	}, func(error) {
		d.eventer.Stop()
	})

	g.Add(func() error {
		d.watcher.Run()
		return nil
	}, func(error) {
		d.watcher.Stop()
	})

	g.Add(func() error {
		return d.keeper.Run(ctx)
	}, func(error) {})

	return g.Run()
}

// runStartupCmd fires the configured startup_cmd once, synchronously,
// before any actor starts serving. Its failure is logged, never fatal --
// gives it no special error-handling treatment beyond being a
// recognized config value.
func (d *Daemon) runStartupCmd() {
	g := d.store.Lock()
	cmd := g.Config().StartupCmd
	g.Unlock()
	if cmd == "" {
		return
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		return // already validated non-empty in New; defensive only
	}

	ctx, cancel := context.WithTimeout(context.Background(), StartupHookTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, shell, "-c", cmd)
	c.Env = os.Environ()
	if err := c.Run(); err != nil {
		logging.Warn("daemon", "startup_cmd failed: %v", err)
	}
}
