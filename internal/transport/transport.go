// Package transport holds the byte-level plumbing shared by the serial
// wire and the bridge.
package transport

// ByteSink is a single-byte transmission target.
type ByteSink interface {
	SendByte(b byte) error
	Ready() bool
}

var _ ByteSink = (*AsyncTx)(nil)
