// Package daemon assembles a networked node: the vault, the sync manager
// with mDNS discovery and WebRTC peers, and the HTTP API that peers and
// clients talk to.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/n3c4s/alohomora/internal/app"
	"github.com/n3c4s/alohomora/internal/config"
	"github.com/n3c4s/alohomora/internal/discovery"
	"github.com/n3c4s/alohomora/internal/metrics"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/server"
)

type Node struct {
	App     *app.App
	Server  *server.Server
	Metrics *metrics.Metrics

	log zerolog.Logger
}

// Open builds a node from cfg. Metrics are registered only when enabled.
func Open(ctx context.Context, cfg *config.Config, version string, log zerolog.Logger) (*Node, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(version)
	}
	if cfg.Discovery.Port == 0 {
		cfg.Discovery.Port = listenPort(cfg.Server.Addr)
	}

	sig := server.NewHTTPSignaler(&http.Client{Timeout: cfg.P2P.ConnectionTimeout})
	a, err := app.Open(ctx, cfg, version, app.Deps{
		Transport: discovery.NewZeroconfTransport(nil),
		Peers:     p2p.NewPionFactory(),
		Signaler:  sig,
		Metrics:   m,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	sig.Bind(a.Manager().LocalDevice(), a.Manager())

	srv, err := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		JWTIssuer:   cfg.Server.JWTIssuer,
		TokenTTL:    cfg.Server.TokenTTL,
		UnlockRate:  cfg.Server.UnlockRate,
		UnlockBurst: cfg.Server.UnlockBurst,
		MetricsPath: cfg.Metrics.Path,
	}, a, m, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return &Node{App: a, Server: srv, Metrics: m, log: log.With().Str("component", "daemon").Logger()}, nil
}

// Run starts sync and serves the API until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.App.StartSync(ctx); err != nil {
		return err
	}
	defer n.App.StopSync(context.WithoutCancel(ctx))

	local := n.App.Manager().LocalDevice()
	n.log.Info().Str("device_id", local.ID).Str("name", local.Name).Msg("node running")
	if err := n.Server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (n *Node) Close() error { return n.App.Close() }

func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}
