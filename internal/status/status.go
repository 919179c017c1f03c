// Package status drives the board's four status LEDs.
package status

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
)

// Mask is a set of lit LEDs.
type Mask uint8

const (
	LED1 Mask = 1 << iota
	LED2
	LED3
	LED4

	None Mask = 0
)

// Link state indications.
const (
	NotReady    = LED1
	Enumerating = LED2 | LED3
	Ready       = LED2 | LED4
	Error       = LED1 | LED3
)

func (m Mask) String() string {
	if m == None {
		return "off"
	}
	var b strings.Builder
	for i, name := range []string{"LED1", "LED2", "LED3", "LED4"} {
		if m&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	return b.String()
}

// Indicator lights exactly the LEDs in a mask.
type Indicator interface {
	SetAll(m Mask)
}

// LogIndicator stands in for the LED port: each change is a log line and a
// gauge update.
type LogIndicator struct {
	mu   sync.Mutex
	cur  Mask
	set  bool
	log  *slog.Logger
	name string
}

// NewLogIndicator returns an indicator logging through l (the default logger
// when nil).
func NewLogIndicator(l *slog.Logger) *LogIndicator {
	if l == nil {
		l = logging.L()
	}
	return &LogIndicator{log: l, name: "status"}
}

func (i *LogIndicator) SetAll(m Mask) {
	i.mu.Lock()
	changed := !i.set || i.cur != m
	i.cur, i.set = m, true
	i.mu.Unlock()
	if !changed {
		return
	}
	metrics.SetStatusLEDs(uint8(m))
	i.log.Info("status_leds", "indicator", i.name, "leds", m.String(), "mask", uint8(m))
}

// Current returns the last mask set.
func (i *LogIndicator) Current() Mask {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cur
}
