// Package cdc is the device side of a USB CDC-ACM (virtual serial port)
// function: the class request handling shared by every transport, an
// in-memory transport for tests and a pseudo-terminal backed transport that
// lets a host program open the bridge like a real serial adapter.
package cdc

import "errors"

// Class-specific request codes (CDC PSTN subclass).
const (
	ReqSendEncapsulatedCommand = 0x00
	ReqGetEncapsulatedResponse = 0x01
	ReqSetLineCoding           = 0x20
	ReqGetLineCoding           = 0x21
	ReqSetControlLineState     = 0x22
	ReqSendBreak               = 0x23
)

// bmRequestType values for class requests addressed to an interface.
const (
	RequestTypeClassOut = 0x21 // host to device
	RequestTypeClassIn  = 0xA1 // device to host

	requestTypeMask  = 0x60
	requestTypeClass = 0x20
)

// SET_CONTROL_LINE_STATE wValue bits.
const (
	ControlLineDTR = 1 << 0
	ControlLineRTS = 1 << 1
)

var (
	ErrUnsupported       = errors.New("cdc: not supported on this platform")
	ErrNotConfigured     = errors.New("cdc: endpoints not configured")
	ErrBankFull          = errors.New("cdc: IN bank full")
	ErrShortLineCoding   = errors.New("cdc: short line coding payload")
	ErrRequestDirection  = errors.New("cdc: request has wrong direction")
	ErrInvalidLineCoding = errors.New("cdc: invalid line coding")
)

// SetupPacket is the 8-byte control transfer header.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ControlRequest is a control transfer waiting for the function to claim it.
// For OUT requests Data carries the payload; IN requests fill it.
type ControlRequest struct {
	Setup   SetupPacket
	Data    []byte
	handled bool
}

// Handled reports whether a class handler consumed the request.
func (r *ControlRequest) Handled() bool { return r.handled }

// NewSetLineCoding builds the SET_LINE_CODING request a host issues when an
// application changes the port settings.
func NewSetLineCoding(lc LineCoding) *ControlRequest {
	return &ControlRequest{
		Setup: SetupPacket{
			RequestType: RequestTypeClassOut,
			Request:     ReqSetLineCoding,
			Length:      LineCodingSize,
		},
		Data: lc.Marshal(),
	}
}

// Transport is the USB device stack as seen by the bridge loop. All methods
// are called from the loop goroutine.
type Transport interface {
	// ReceiveByte takes the next byte from the OUT endpoint, if any.
	ReceiveByte() (byte, bool)
	// INReady reports whether the IN endpoint can accept a new batch.
	INReady() bool
	// SendByte appends b to the IN bank.
	SendByte(b byte) error
	// BankSize is the IN endpoint bank size in bytes.
	BankSize() int
	// Task services the stack: flushes the IN bank, refills OUT, delivers
	// events.
	Task()
	// ConfigureEndpoints sets up the data and notification endpoints after
	// the host selected a configuration.
	ConfigureEndpoints() bool
	// ProcessControlRequest hands a control request to the CDC class driver.
	ProcessControlRequest(req *ControlRequest) error
}

// Events are the stack callbacks the bridge implements.
type Events interface {
	Connect()
	Disconnect()
	ConfigurationChanged()
	ControlRequest(req *ControlRequest)
	LineEncodingChanged(lc LineCoding)
}
