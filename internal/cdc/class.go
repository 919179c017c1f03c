package cdc

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
)

// Class holds the CDC-ACM class state every transport shares: the current
// line coding, the control line state and the event sink.
type Class struct {
	mu        sync.Mutex
	events    Events
	coding    LineCoding
	lineState uint16
}

// SetEvents installs the callback sink. It must be called before the
// transport is serviced.
func (c *Class) SetEvents(ev Events) {
	c.mu.Lock()
	c.events = ev
	c.mu.Unlock()
}

func (c *Class) sink() Events {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// LineCoding returns the last coding set by the host.
func (c *Class) LineCoding() LineCoding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coding
}

// ControlLineState returns the last SET_CONTROL_LINE_STATE value.
func (c *Class) ControlLineState() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineState
}

// ProcessControlRequest claims the CDC class requests. Requests that are
// not class requests are left unhandled and return nil.
func (c *Class) ProcessControlRequest(req *ControlRequest) error {
	s := req.Setup
	if s.RequestType&requestTypeMask != requestTypeClass {
		return nil
	}
	switch s.Request {
	case ReqSetLineCoding:
		if s.RequestType != RequestTypeClassOut {
			return c.reject(req, ErrRequestDirection)
		}
		lc, err := ParseLineCoding(req.Data)
		if err != nil {
			return c.reject(req, err)
		}
		if err := lc.Validate(); err != nil {
			logging.L().Warn("cdc_line_coding_unusual", "coding", lc.String(), "error", err)
		}
		c.mu.Lock()
		c.coding = lc
		ev := c.events
		c.mu.Unlock()
		req.handled = true
		logging.L().Debug("cdc_set_line_coding", "coding", lc.String())
		if ev != nil {
			ev.LineEncodingChanged(lc)
		}
	case ReqGetLineCoding:
		if s.RequestType != RequestTypeClassIn {
			return c.reject(req, ErrRequestDirection)
		}
		req.Data = c.LineCoding().Marshal()
		req.handled = true
	case ReqSetControlLineState:
		if s.RequestType != RequestTypeClassOut {
			return c.reject(req, ErrRequestDirection)
		}
		c.mu.Lock()
		c.lineState = s.Value
		c.mu.Unlock()
		req.handled = true
		logging.L().Debug("cdc_control_line_state",
			"dtr", s.Value&ControlLineDTR != 0, "rts", s.Value&ControlLineRTS != 0)
	case ReqSendBreak:
		req.handled = true
	}
	return nil
}

func (c *Class) reject(req *ControlRequest, err error) error {
	metrics.IncError(metrics.ErrUSBControl)
	return fmt.Errorf("cdc request %#02x: %w", req.Setup.Request, err)
}
