// Package app wires the reactor, cache, statistics and the two listeners
// together into the single running process spec.md §2's component table
// describes — the equivalent of the teacher's internal/app.Application.
package app

import (
	"context"
	"fmt"

	"github.com/oferbear/HTTP-proxy/internal/adminfront"
	"github.com/oferbear/HTTP-proxy/internal/cache"
	"github.com/oferbear/HTTP-proxy/internal/config"
	"github.com/oferbear/HTTP-proxy/internal/listener"
	"github.com/oferbear/HTTP-proxy/internal/logger"
	"github.com/oferbear/HTTP-proxy/internal/proxyfront"
	"github.com/oferbear/HTTP-proxy/internal/reactor"
	"github.com/oferbear/HTTP-proxy/internal/stats"
)

// Application owns every long-lived component: one Reactor goroutine
// multiplexing the proxy listener, the admin listener, and every connection
// either accepts.
type Application struct {
	cfg   config.Config
	log   *logger.StyledLogger
	cache *cache.Cache
	stats *stats.Statistics

	reactor     *reactor.Reactor
	proxyListen *listener.Listener
	adminListen *listener.Listener

	stopWatch func() error
}

// New prepares the cache root, constructs the reactor, and binds both
// listening sockets (retrying on EADDRINUSE). Accepting starts only once Run
// registers the listeners with the reactor.
func New(cfg config.Config, log *logger.StyledLogger) (*Application, error) {
	c, err := cache.New(cfg.Cache.Root, log)
	if err != nil {
		return nil, fmt.Errorf("prepare cache: %w", err)
	}

	st := stats.New()

	r, err := reactor.New(log)
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}

	a := &Application{cfg: cfg, log: log, cache: c, stats: st, reactor: r}

	proxyFD, err := listener.BindWithRetry(cfg.Proxy.BindAddress, cfg.Proxy.BindPort, log)
	if err != nil {
		return nil, fmt.Errorf("bind proxy listener: %w", err)
	}
	a.proxyListen = listener.New(proxyFD, a.acceptProxy, log)

	adminFD, err := listener.BindWithRetry(cfg.Admin.BindAddress, cfg.Admin.BindPort, log)
	if err != nil {
		return nil, fmt.Errorf("bind admin listener: %w", err)
	}
	a.adminListen = listener.New(adminFD, a.acceptAdmin, log)

	if stop, werr := c.Watch(func(event, path string) {
		log.Debug("cache directory changed", "event", event, "path", path)
	}); werr == nil {
		a.stopWatch = stop
	} else {
		log.Warn("cache watch unavailable", "error", werr)
	}

	return a, nil
}

func (a *Application) acceptProxy(clientFD int, r *reactor.Reactor) {
	pf := proxyfront.New(clientFD, a.cache, a.stats, r, a.log)
	r.Register(pf)
}

func (a *Application) acceptAdmin(clientFD int, r *reactor.Reactor) {
	af := adminfront.New(clientFD, a.cache, a.stats, a.cfg.Admin.BaseDir, a.log)
	r.Register(af)
}

// SetBaseDir updates the directory AdminFront serves static files from —
// called from the config hot-reload callback.
func (a *Application) SetBaseDir(base string) {
	a.cfg.Admin.BaseDir = base
}

// Run registers the two listeners and drives the reactor loop until ctx is
// cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.reactor.Register(a.proxyListen)
	a.reactor.Register(a.adminListen)
	a.log.Info("listening",
		"proxy_address", a.cfg.Proxy.BindAddress, "proxy_port", a.cfg.Proxy.BindPort,
		"admin_address", a.cfg.Admin.BindAddress, "admin_port", a.cfg.Admin.BindPort,
	)
	return a.reactor.Run(ctx)
}

// Stop unblocks a running Run loop; safe to call from a signal handler.
func (a *Application) Stop() {
	a.reactor.Stop()
}

// Close releases resources that outlive the reactor loop (the cache watch).
func (a *Application) Close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
}
