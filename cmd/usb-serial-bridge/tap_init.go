package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/kstaniek/go-usb-serial-bridge/internal/hub"
	"github.com/kstaniek/go-usb-serial-bridge/internal/tap"
)

const tapBanner = "# usb-serial-bridge trace (dir hex...)"

// initHub returns the trace hub, or nil when the tap is disabled.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	if cfg.tapListen == "" {
		return nil
	}
	h := hub.New()
	h.OutBufSize = cfg.tapBuffer
	switch cfg.tapPolicy {
	case "kick":
		h.Policy = hub.PolicyKick
	default:
		h.Policy = hub.PolicyDrop
	}
	l.Info("tap_config", "policy", h.Policy.String(), "buffer", h.OutBufSize, "max_clients", cfg.tapMaxClients)
	return h
}

// startTap serves the monitor listener and, once bound, announces it over
// mDNS. A listener failure cancels the process context.
func startTap(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, h *hub.Hub, l *slog.Logger) *tap.Server {
	srv := tap.NewServer(
		tap.WithHub(h),
		tap.WithListenAddr(cfg.tapListen),
		tap.WithBanner(tapBanner),
		tap.WithMaxClients(cfg.tapMaxClients),
		tap.WithReadDeadline(cfg.tapReadTO),
		tap.WithLogger(l),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tap_server_error", "error", err)
			cancel()
		}
	}()
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()
	return srv
}

// listenPort extracts the port from a bound host:port address; 0 if absent.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
