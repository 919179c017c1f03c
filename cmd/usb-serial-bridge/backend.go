package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-usb-serial-bridge/internal/irq"
	"github.com/kstaniek/go-usb-serial-bridge/internal/serial"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

// openSerialPort can be replaced in tests.
var openSerialPort = serial.Open

// initUART builds the emulated USART whose wire is chosen by uart-backend.
// The port itself is opened lazily when the UART is enabled; for the serial
// backend it is probed once here so a missing device fails at startup.
func initUART(ctx context.Context, cfg *appConfig, rx *irq.Line, l *slog.Logger) (*usart.Device, error) {
	var open func(serial.Config) (serial.Port, error)
	switch cfg.uartBackend {
	case backendSerial:
		open = func(c serial.Config) (serial.Port, error) { return openSerialPort(c) }
		p, err := open(serial.Config{Name: cfg.serialDev, Baud: probeBaud, Size: 8, ReadTimeout: cfg.serialReadTO})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", cfg.serialDev, err)
		}
		_ = p.Close()
	case backendLoopback:
		open = func(c serial.Config) (serial.Port, error) { return serial.NewLoopback(c.ReadTimeout), nil }
	default:
		return nil, fmt.Errorf("unknown uart-backend: %s", cfg.uartBackend)
	}
	l.Info("uart_backend", "backend", cfg.uartBackend, "device", cfg.serialDev, "clock_hz", cfg.clockHz)
	return usart.NewDevice(ctx, usart.DeviceConfig{
		Name:        cfg.serialDev,
		ReadTimeout: cfg.serialReadTO,
		Clock:       uint32(cfg.clockHz),
		Open:        open,
		RX:          rx,
		Logger:      l,
	}), nil
}
