package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/bridge"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

const envPrefix = "USB_SERIAL_BRIDGE_"

type appConfig struct {
	uartBackend     string
	serialDev       string
	serialReadTO    time.Duration
	baud            int
	ptyLink         string
	bankSize        int
	queueSize       int
	clockHz         uint
	idleInterval    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	tapListen       string
	tapBuffer       int
	tapPolicy       string
	tapMaxClients   int
	tapReadTO       time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

// parseArgs registers every flag on fs, parses args and layers environment
// overrides beneath explicitly set flags. A nil config means the values were
// rejected; the reason has already been printed.
func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool) {
	cfg := &appConfig{}
	fs.StringVar(&cfg.uartBackend, "uart-backend", "serial", "UART wire: serial|loopback")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path (uart-backend=serial)")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.IntVar(&cfg.baud, "baud", 0, "Initial UART baud rate applied at startup (0 = wait for the host's line coding)")
	fs.StringVar(&cfg.ptyLink, "pty-link", "", "Symlink created to the emulated CDC ACM device (empty = none)")
	fs.IntVar(&cfg.bankSize, "bank-size", 64, "USB endpoint bank size in bytes")
	fs.IntVar(&cfg.queueSize, "queue-size", bridge.DefaultQueueSize, "Capacity of each bridge queue in bytes")
	fs.UintVar(&cfg.clockHz, "clock-hz", usart.DefaultClock, "Emulated CPU clock used for baud divisor math")
	fs.DurationVar(&cfg.idleInterval, "idle-interval", 250*time.Microsecond, "Loop sleep after an iteration that moved nothing (0 = spin)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&cfg.tapListen, "tap-listen", "", "TCP address of the byte trace monitor (e.g., :20100); empty disables")
	fs.IntVar(&cfg.tapBuffer, "tap-buffer", 512, "Per-monitor buffer (trace records)")
	fs.StringVar(&cfg.tapPolicy, "tap-policy", "drop", "Monitor backpressure policy: drop|kick")
	fs.IntVar(&cfg.tapMaxClients, "tap-max-clients", 0, "Maximum simultaneous monitors (0 = unlimited)")
	fs.DurationVar(&cfg.tapReadTO, "tap-read-timeout", 60*time.Second, "Per-monitor read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the trace monitor via mDNS/Avahi")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default usb-serial-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Printf("flag error: %v\n", err)
		return nil, false
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration.
// It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.uartBackend {
	case backendSerial, backendLoopback:
	default:
		return fmt.Errorf("invalid uart-backend: %s", c.uartBackend)
	}
	if c.uartBackend == backendSerial && c.serialDev == "" {
		return errors.New("serial must be set for uart-backend=serial")
	}
	switch c.tapPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid tap-policy: %s", c.tapPolicy)
	}
	if c.tapBuffer <= 0 {
		return fmt.Errorf("tap-buffer must be > 0 (got %d)", c.tapBuffer)
	}
	if c.tapMaxClients < 0 {
		return fmt.Errorf("tap-max-clients must be >= 0")
	}
	if c.tapReadTO <= 0 {
		return fmt.Errorf("tap-read-timeout must be > 0")
	}
	if c.mdnsEnable && c.tapListen == "" {
		return errors.New("mdns-enable requires tap-listen")
	}
	if c.baud < 0 {
		return fmt.Errorf("baud must be >= 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	// The relay quota is bank-1, so a one byte bank could never send.
	if c.bankSize < 2 || c.bankSize > 1024 {
		return fmt.Errorf("bank-size must be in [2,1024] (got %d)", c.bankSize)
	}
	if c.queueSize < 2 {
		return fmt.Errorf("queue-size must be >= 2 (got %d)", c.queueSize)
	}
	if c.clockHz == 0 || uint64(c.clockHz) > math.MaxUint32 {
		return fmt.Errorf("clock-hz out of range: %d", c.clockHz)
	}
	if c.idleInterval < 0 {
		return fmt.Errorf("idle-interval must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// envOverrides lists the flag each USB_SERIAL_BRIDGE_* variable shadows.
var envOverrides = []struct {
	flag  string
	env   string
	apply func(c *appConfig, v string) error
}{
	{"uart-backend", "UART_BACKEND", func(c *appConfig, v string) error { c.uartBackend = v; return nil }},
	{"serial", "SERIAL", func(c *appConfig, v string) error { c.serialDev = v; return nil }},
	{"serial-read-timeout", "SERIAL_READ_TIMEOUT", durationInto(func(c *appConfig) *time.Duration { return &c.serialReadTO })},
	{"baud", "BAUD", intInto(func(c *appConfig) *int { return &c.baud })},
	{"pty-link", "PTY_LINK", func(c *appConfig, v string) error { c.ptyLink = v; return nil }},
	{"bank-size", "BANK_SIZE", intInto(func(c *appConfig) *int { return &c.bankSize })},
	{"queue-size", "QUEUE_SIZE", intInto(func(c *appConfig) *int { return &c.queueSize })},
	{"clock-hz", "CLOCK_HZ", func(c *appConfig, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.clockHz = uint(n)
		return nil
	}},
	{"idle-interval", "IDLE_INTERVAL", durationInto(func(c *appConfig) *time.Duration { return &c.idleInterval })},
	{"log-format", "LOG_FORMAT", func(c *appConfig, v string) error { c.logFormat = v; return nil }},
	{"log-level", "LOG_LEVEL", func(c *appConfig, v string) error { c.logLevel = v; return nil }},
	{"metrics-addr", "METRICS", func(c *appConfig, v string) error { c.metricsAddr = v; return nil }},
	{"log-metrics-interval", "LOG_METRICS_INTERVAL", durationInto(func(c *appConfig) *time.Duration { return &c.logMetricsEvery })},
	{"tap-listen", "TAP_LISTEN", func(c *appConfig, v string) error { c.tapListen = v; return nil }},
	{"tap-buffer", "TAP_BUFFER", intInto(func(c *appConfig) *int { return &c.tapBuffer })},
	{"tap-policy", "TAP_POLICY", func(c *appConfig, v string) error { c.tapPolicy = v; return nil }},
	{"tap-max-clients", "TAP_MAX_CLIENTS", intInto(func(c *appConfig) *int { return &c.tapMaxClients })},
	{"tap-read-timeout", "TAP_READ_TIMEOUT", durationInto(func(c *appConfig) *time.Duration { return &c.tapReadTO })},
	{"mdns-enable", "MDNS_ENABLE", func(c *appConfig, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.mdnsEnable = true
		case "0", "false", "no", "off":
			c.mdnsEnable = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}},
	{"mdns-name", "MDNS_NAME", func(c *appConfig, v string) error { c.mdnsName = v; return nil }},
}

func intInto(field func(*appConfig) *int) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationInto(field func(*appConfig) *time.Duration) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// applyEnvOverrides maps USB_SERIAL_BRIDGE_* environment variables to config
// fields unless the corresponding flag was explicitly set. Empty values are
// ignored. The first parse error is returned after all variables are tried;
// range checks are left to validate.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, o := range envOverrides {
		if _, ok := set[o.flag]; ok {
			continue
		}
		v, ok := os.LookupEnv(envPrefix + o.env)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, o.env, err)
		}
	}
	return firstErr
}
