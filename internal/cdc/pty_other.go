//go:build !linux

package cdc

import "log/slog"

// PTYConfig configures OpenPTY.
type PTYConfig struct {
	Link     string
	BankSize int
	Logger   *slog.Logger
}

// PTY is only available on linux.
type PTY struct{ Class }

var _ Transport = (*PTY)(nil)

func OpenPTY(PTYConfig) (*PTY, error) { return nil, ErrUnsupported }

func (p *PTY) Path() string { return "" }
func (p *PTY) ReceiveByte() (byte, bool) { return 0, false }
func (p *PTY) INReady() bool { return false }
func (p *PTY) SendByte(byte) error { return ErrUnsupported }
func (p *PTY) BankSize() int { return 0 }
func (p *PTY) Task() {}
func (p *PTY) ConfigureEndpoints() bool { return false }
func (p *PTY) Close() error { return nil }
