// Package cli wires up the command line flags and runs a chat node.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/p2pchat/internal/authority"
	"github.com/omochice/p2pchat/internal/config"
	"github.com/omochice/p2pchat/internal/console"
	"github.com/omochice/p2pchat/internal/link"
	"github.com/omochice/p2pchat/internal/logging"
	"github.com/omochice/p2pchat/internal/metrics"
	"github.com/omochice/p2pchat/internal/peer"
	"github.com/omochice/p2pchat/internal/retry"
)

// version is overridable at link time:
//
//	go build -ldflags "-X github.com/omochice/p2pchat/internal/cli.version=1.1.0"
var version = "0.1.0" //nolint:gochecknoglobals

// IO bundles the streams a node talks to.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Interactive enables the input prompt.
	Interactive bool
}

// StdIO returns the process streams.
func StdIO() IO {
	return IO{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Interactive: console.IsTerminal(os.Stdin),
	}
}

// Execute parses args and runs a node until ctx is done or the user quits.
func Execute(ctx context.Context, args []string, stdio IO) error {
	fs := flag.NewFlagSet("p2pchat", flag.ContinueOnError)
	fs.SetOutput(stdio.Err)

	// ── role & addressing ────────────────────────────────────────
	role := fs.StringP("role", "r", config.RolePeer, "Role of this device: authority or peer")
	host := fs.StringP("host", "H", config.DefaultAuthorityHost, "Authority address to connect to (peer)")
	port := fs.IntP("port", "p", config.DefaultPort, "Chat port")
	bindHost := fs.String("bind", "", "Interface to listen on (authority)")
	wsPort := fs.Int("ws-port", 0, "Also accept WebSocket peers on this port (authority)")

	// ── wire ─────────────────────────────────────────────────────
	codec := fs.String("codec", config.DefaultCodec, "Framing: line or proto")
	transport := fs.StringP("transport", "t", config.DefaultTransport, "Peer transport: tcp or ws")
	reconnect := fs.Bool("reconnect", false, "Redial the authority after the link drops (peer)")

	// ── config & output ──────────────────────────────────────────
	configPath := fs.StringP("config", "c", "", "YAML config file")
	verbose := fs.CountP("verbose", "v", "Increase log verbosity")
	logFormat := fs.String("log-format", config.DefaultLogFormat, "Log encoding: console or json")
	dryRun := fs.Bool("dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		fmt.Fprintln(stdio.Err, "usage: p2pchat [flags]")
		fs.PrintDefaults()
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdio.Out, "p2pchat %s\n", version)
		return nil
	}

	// ── configuration layers ─────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("role") {
		cfg.Role = *role
	}
	if fs.Changed("host") {
		cfg.Host = *host
	}
	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("bind") {
		cfg.BindHost = *bindHost
	}
	if fs.Changed("ws-port") {
		cfg.WSPort = *wsPort
	}
	if fs.Changed("codec") {
		cfg.Codec = *codec
	}
	if fs.Changed("transport") {
		cfg.Transport = *transport
	}
	if fs.Changed("reconnect") {
		cfg.Reconnect.Enabled = *reconnect
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	if *verbose > 0 {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if *dryRun {
		fmt.Fprintf(stdio.Out, "role=%s host=%s port=%d ws_port=%d transport=%s codec=%s reconnect=%t\n",
			cfg.Role, cfg.Host, cfg.Port, cfg.WSPort, cfg.Transport, cfg.Codec, cfg.Reconnect.Enabled)
		return nil
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	return run(ctx, cfg, logger, stdio)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, stdio IO) error {
	codec, err := cfg.NewCodec()
	if err != nil {
		return err
	}
	m := metrics.New()

	var ctrl *link.Controller
	con := console.New(console.SenderFunc(func(text string) error {
		return ctrl.Send(text)
	}), console.Options{
		In:           stdio.In,
		Out:          stdio.Out,
		Interactive:  stdio.Interactive,
		Metrics:      m,
		Participants: func() []string { return ctrl.Participants() },
	})

	var backoff *retry.Backoff
	if cfg.Reconnect.Enabled {
		backoff = cfg.Reconnect.Backoff()
	}
	ctrl = link.New(con.Handle, link.Options{
		Port: cfg.Port,
		Authority: authority.Options{
			BindHost:       cfg.BindHost,
			WSPort:         cfg.WSPort,
			Codec:          codec,
			MaxMessageSize: cfg.MaxMessageSize,
			OutgoingQueue:  cfg.OutgoingQueue,
			WriteTimeout:   cfg.WriteTimeout,
			Metrics:        m,
		},
		Peer: peer.Options{
			Transport:      cfg.Transport,
			Codec:          codec,
			MaxMessageSize: cfg.MaxMessageSize,
			DialTimeout:    cfg.DialTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			Metrics:        m,
		},
		Reconnect: backoff,
		Logger:    logger,
	})

	assignment := link.Assignment{Role: link.RolePeer, AuthorityHost: cfg.Host}
	if cfg.Role == config.RoleAuthority {
		assignment = link.Assignment{Role: link.RoleAuthority}
	}
	if err := ctrl.Assign(ctx, assignment); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return con.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ctrl.Close()
	})
	return g.Wait()
}
