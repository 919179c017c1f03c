package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		uartBackend:  "loopback",
		serialDev:    "/dev/null",
		serialReadTO: 10 * time.Millisecond,
		bankSize:     64,
		queueSize:    128,
		clockHz:      16_000_000,
		idleInterval: 250 * time.Microsecond,
		logFormat:    "text",
		logLevel:     "info",
		tapBuffer:    8,
		tapPolicy:    "drop",
		tapReadTO:    time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := validConfig()
	c.tapListen = ":0"
	c.mdnsEnable = true
	c.idleInterval = 0
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok with tap+mdns got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.uartBackend = "x" }},
		{"serialNoDevice", func(c *appConfig) { c.uartBackend = "serial"; c.serialDev = "" }},
		{"badPolicy", func(c *appConfig) { c.tapPolicy = "x" }},
		{"badTapBuf", func(c *appConfig) { c.tapBuffer = 0 }},
		{"badTapMax", func(c *appConfig) { c.tapMaxClients = -1 }},
		{"badTapReadTO", func(c *appConfig) { c.tapReadTO = 0 }},
		{"mdnsWithoutTap", func(c *appConfig) { c.mdnsEnable = true }},
		{"negativeBaud", func(c *appConfig) { c.baud = -1 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"bankTooSmall", func(c *appConfig) { c.bankSize = 1 }},
		{"bankTooLarge", func(c *appConfig) { c.bankSize = 2048 }},
		{"badQueue", func(c *appConfig) { c.queueSize = 1 }},
		{"zeroClock", func(c *appConfig) { c.clockHz = 0 }},
		{"negativeIdle", func(c *appConfig) { c.idleInterval = -time.Millisecond }},
		{"negativeMetricsLog", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		c := validConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidate_Nil(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("usb-serial-bridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, showVersion := parseArgs(newFlagSet(), nil)
	if cfg == nil || showVersion {
		t.Fatalf("cfg=%v version=%v", cfg, showVersion)
	}
	if cfg.uartBackend != "serial" || cfg.serialDev != "/dev/ttyUSB0" {
		t.Fatalf("uart defaults: %+v", cfg)
	}
	if cfg.baud != 0 || cfg.bankSize != 64 || cfg.queueSize != 128 || cfg.clockHz != 16_000_000 {
		t.Fatalf("bridge defaults: %+v", cfg)
	}
	if cfg.tapListen != "" || cfg.mdnsEnable {
		t.Fatalf("tap should default off: %+v", cfg)
	}
}

func TestParseArgsFlags(t *testing.T) {
	cfg, _ := parseArgs(newFlagSet(), []string{
		"-uart-backend", "loopback",
		"-baud", "115200",
		"-bank-size", "16",
		"-tap-listen", "127.0.0.1:0",
		"-tap-policy", "kick",
		"-idle-interval", "0",
	})
	if cfg == nil {
		t.Fatalf("expected config")
	}
	if cfg.uartBackend != "loopback" || cfg.baud != 115200 || cfg.bankSize != 16 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.tapListen != "127.0.0.1:0" || cfg.tapPolicy != "kick" || cfg.idleInterval != 0 {
		t.Fatalf("tap flags not applied: %+v", cfg)
	}
}

func TestParseArgsRejectsInvalid(t *testing.T) {
	if cfg, _ := parseArgs(newFlagSet(), []string{"-bank-size", "1"}); cfg != nil {
		t.Fatalf("expected nil config for bank-size 1")
	}
	if cfg, _ := parseArgs(newFlagSet(), []string{"-no-such-flag"}); cfg != nil {
		t.Fatalf("expected nil config for unknown flag")
	}
}

func TestParseArgsVersion(t *testing.T) {
	_, showVersion := parseArgs(newFlagSet(), []string{"-version"})
	if !showVersion {
		t.Fatalf("expected showVersion")
	}
}
