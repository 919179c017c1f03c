package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/bridge"
	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/status"
	"github.com/kstaniek/go-usb-serial-bridge/internal/tap"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("usb-serial-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	rx := &irq.Line{}
	uart, err := initUART(ctx, cfg, rx, l)
	if err != nil {
		l.Error("uart_init_error", "error", err)
		return
	}
	defer uart.Close()
	usb, err := initUSB(cfg, l)
	if err != nil {
		l.Error("usb_init_error", "error", err)
		return
	}
	defer func() { _ = usb.Close() }()

	opts := []bridge.Option{
		bridge.WithQueueSize(cfg.queueSize),
		bridge.WithRX(rx),
		bridge.WithClock(uint32(cfg.clockHz)),
		bridge.WithIndicator(status.NewLogIndicator(l)),
		bridge.WithIdle(cfg.idleInterval),
		bridge.WithLogger(l),
	}
	h := initHub(cfg, l)
	if h != nil {
		opts = append(opts, bridge.WithTrace(h))
	}
	b := bridge.New(usb, uart, opts...)
	if cfg.baud > 0 {
		b.ApplyLineEncoding(usart.LineEncoding{Baud: uint32(cfg.baud), DataBits: 8})
	}

	var tapSrv *tap.Server
	if h != nil {
		tapSrv = startTap(ctx, cancel, cfg, h, l)
	}

	// Ready once the host has configured the emulated function.
	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && b.Ready() })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- b.Run(ctx) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
		<-loopDone
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("bridge_loop_error", "error", err)
		}
		cancel()
	}
	if tapSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tapSrv.Shutdown(sctx); err != nil {
			l.Warn("tap_shutdown_error", "error", err)
		}
		scancel()
	}
	wg.Wait()
}
