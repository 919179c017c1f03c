package bridge

import (
	"fmt"

	"github.com/kstaniek/go-usb-serial-bridge/internal/cdc"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"github.com/kstaniek/go-usb-serial-bridge/internal/usart"
)

func (b *Bridge) Connect() { b.setState(Enumerating) }

func (b *Bridge) Disconnect() { b.setState(NotReady) }

// ConfigurationChanged sets up the CDC endpoints for the selected
// configuration.
func (b *Bridge) ConfigurationChanged() {
	if b.usb.ConfigureEndpoints() {
		b.setState(Configured)
		return
	}
	metrics.IncError(metrics.ErrUSBConfig)
	b.setState(Error)
}

// ControlRequest passes class requests to the CDC driver, which reports
// line coding changes back through LineEncodingChanged.
func (b *Bridge) ControlRequest(req *cdc.ControlRequest) {
	if err := b.usb.ProcessControlRequest(req); err != nil {
		b.log.Debug("usb_control_request_error", "request", fmt.Sprintf("0x%02X", req.Setup.Request), "error", err)
	}
}

func (b *Bridge) LineEncodingChanged(lc cdc.LineCoding) {
	b.ApplyLineEncoding(usart.LineEncoding{
		Baud:     lc.DTERate,
		Parity:   usart.Parity(lc.ParityType),
		StopBits: usart.StopBits(lc.CharFormat),
		DataBits: lc.DataBits,
	})
}

// ApplyLineEncoding reprograms the UART for e.
func (b *Bridge) ApplyLineEncoding(e usart.LineEncoding) usart.Settings {
	s := b.reconf.Apply(e)
	metrics.IncReconfig()
	b.log.Info("line_encoding_changed",
		"encoding", e.String(),
		"ubrr", s.Divisor,
		"ucsrc", fmt.Sprintf("0x%02X", s.Control),
		"divisor_kept", s.DivisorKept,
	)
	return s
}
