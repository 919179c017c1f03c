package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"usb_rx", snap.USBRx,
					"usb_tx", snap.USBTx,
					"uart_rx", snap.UARTRx,
					"uart_tx", snap.UARTTx,
					"drop_overflow", snap.DropOverflow,
					"drop_not_ready", snap.DropNotReady,
					"backpressure", snap.Backpressure,
					"send_retries", snap.SendRetries,
					"reconfigs", snap.Reconfigs,
					"tap_clients", snap.TapClients,
					"tap_drops", snap.TapDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
