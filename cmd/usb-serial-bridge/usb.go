package main

import (
	"log/slog"

	"github.com/kstaniek/go-usb-serial-bridge/internal/cdc"
)

// openUSB can be replaced in tests.
var openUSB = cdc.OpenPTY

// initUSB creates the emulated CDC ACM function the host attaches to.
func initUSB(cfg *appConfig, l *slog.Logger) (*cdc.PTY, error) {
	p, err := openUSB(cdc.PTYConfig{Link: cfg.ptyLink, BankSize: cfg.bankSize, Logger: l})
	if err != nil {
		return nil, err
	}
	l.Info("usb_function_ready", "device", p.Path(), "link", cfg.ptyLink, "bank_size", cfg.bankSize)
	return p, nil
}
