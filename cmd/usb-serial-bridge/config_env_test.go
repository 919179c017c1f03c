package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validConfig()
	t.Setenv("USB_SERIAL_BRIDGE_BAUD", "230400")
	t.Setenv("USB_SERIAL_BRIDGE_UART_BACKEND", "serial")
	t.Setenv("USB_SERIAL_BRIDGE_SERIAL", "/dev/ttyS1")
	t.Setenv("USB_SERIAL_BRIDGE_MDNS_ENABLE", "yes")
	t.Setenv("USB_SERIAL_BRIDGE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("USB_SERIAL_BRIDGE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("USB_SERIAL_BRIDGE_CLOCK_HZ", "8000000")
	t.Setenv("USB_SERIAL_BRIDGE_TAP_LISTEN", " :20100 ")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if base.uartBackend != "serial" || base.serialDev != "/dev/ttyS1" {
		t.Fatalf("uart override: %+v", base)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO override, got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery override, got %v", base.logMetricsEvery)
	}
	if base.clockHz != 8_000_000 {
		t.Fatalf("expected clock override, got %d", base.clockHz)
	}
	if base.tapListen != ":20100" {
		t.Fatalf("expected trimmed tap-listen, got %q", base.tapListen)
	}
}

func TestApplyEnvOverrides_FlagWins(t *testing.T) {
	base := validConfig()
	base.bankSize = 32
	t.Setenv("USB_SERIAL_BRIDGE_BANK_SIZE", "8")
	t.Setenv("USB_SERIAL_BRIDGE_QUEUE_SIZE", "256")
	if err := applyEnvOverrides(base, map[string]struct{}{"bank-size": {}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.bankSize != 32 {
		t.Fatalf("explicit flag lost to env: %d", base.bankSize)
	}
	if base.queueSize != 256 {
		t.Fatalf("unset flag not overridden: %d", base.queueSize)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	base := validConfig()
	t.Setenv("USB_SERIAL_BRIDGE_BANK_SIZE", "many")
	t.Setenv("USB_SERIAL_BRIDGE_IDLE_INTERVAL", "soon")
	t.Setenv("USB_SERIAL_BRIDGE_LOG_LEVEL", "debug")
	err := applyEnvOverrides(base, map[string]struct{}{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if base.bankSize != 64 {
		t.Fatalf("invalid value applied: %d", base.bankSize)
	}
	if base.logLevel != "debug" {
		t.Fatalf("valid override skipped after error: %q", base.logLevel)
	}
}

func TestApplyEnvOverrides_BadBool(t *testing.T) {
	base := validConfig()
	t.Setenv("USB_SERIAL_BRIDGE_MDNS_ENABLE", "maybe")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad boolean")
	}
	if base.mdnsEnable {
		t.Fatalf("bad boolean enabled mdns")
	}
}

func TestParseArgsEnvBelowFlags(t *testing.T) {
	t.Setenv("USB_SERIAL_BRIDGE_UART_BACKEND", "loopback")
	t.Setenv("USB_SERIAL_BRIDGE_BAUD", "9600")
	cfg, _ := parseArgs(newFlagSet(), []string{"-baud", "57600"})
	if cfg == nil {
		t.Fatalf("expected config")
	}
	if cfg.uartBackend != "loopback" {
		t.Fatalf("env not applied: %s", cfg.uartBackend)
	}
	if cfg.baud != 57600 {
		t.Fatalf("flag did not win: %d", cfg.baud)
	}
}
