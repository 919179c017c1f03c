//go:build linux

package cdc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kstaniek/go-usb-serial-bridge/internal/logging"
	"github.com/kstaniek/go-usb-serial-bridge/internal/metrics"
	"golang.org/x/sys/unix"
)

const (
	ptmxPath = "/dev/ptmx"
	// statusPollInterval bounds how often Task looks for host attach/detach
	// and termios changes.
	statusPollInterval = 20 * time.Millisecond
)

// PTYConfig configures OpenPTY.
type PTYConfig struct {
	// Link, when set, is a symlink created to the slave device so host
	// programs can use a stable path.
	Link     string
	BankSize int
	Logger   *slog.Logger
}

// PTY is a CDC-ACM function emulated on a pseudo-terminal. A host program
// opening the slave device is the cable being plugged in; the termios the
// program sets becomes SET_LINE_CODING. It is not safe for concurrent use.
type PTY struct {
	Class

	fd    int
	slave string
	link  string
	bank  int
	log   *slog.Logger
	now   func() time.Time

	lastPoll   time.Time
	attached   bool
	configured bool
	coding     LineCoding

	in     []byte
	outBuf []byte
	out    []byte
}

var _ Transport = (*PTY)(nil)

// OpenPTY allocates a pseudo-terminal pair and puts the slave side in raw
// mode. The function starts detached.
func OpenPTY(cfg PTYConfig) (*PTY, error) {
	if cfg.BankSize <= 0 {
		cfg.BankSize = 64
	}
	fd, err := unix.Open(ptmxPath, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ptmxPath, err)
	}
	fail := func(err error) (*PTY, error) {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		return fail(fmt.Errorf("unlock pty: %w", err))
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		return fail(fmt.Errorf("pty number: %w", err))
	}
	slave := "/dev/pts/" + strconv.Itoa(n)
	if err := initSlave(slave); err != nil {
		return fail(err)
	}
	p := &PTY{
		fd:     fd,
		slave:  slave,
		bank:   cfg.BankSize,
		log:    cfg.Logger,
		now:    time.Now,
		outBuf: make([]byte, cfg.BankSize),
	}
	if p.log == nil {
		p.log = logging.L()
	}
	if cfg.Link != "" {
		_ = os.Remove(cfg.Link)
		if err := os.Symlink(slave, cfg.Link); err != nil {
			return fail(fmt.Errorf("link %s: %w", cfg.Link, err))
		}
		p.link = cfg.Link
	}
	p.log.Info("cdc_pty_open", "device", p.Path())
	return p, nil
}

// initSlave opens the slave once to set raw mode; closing it leaves the
// master in the hung-up (detached) state.
func initSlave(path string) error {
	sfd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(sfd)
	t, err := unix.IoctlGetTermios(sfd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgets %s: %w", path, err)
	}
	makeRaw(t)
	setRate(t, 9600)
	if err := unix.IoctlSetTermios(sfd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("tcsets %s: %w", path, err)
	}
	return nil
}

// Path is the device a host program opens.
func (p *PTY) Path() string {
	if p.link != "" {
		return p.link
	}
	return p.slave
}

func (p *PTY) ReceiveByte() (byte, bool) {
	if !p.configured || len(p.out) == 0 {
		return 0, false
	}
	b := p.out[0]
	p.out = p.out[1:]
	return b, true
}

func (p *PTY) INReady() bool { return p.configured && len(p.in) == 0 }

func (p *PTY) SendByte(b byte) error {
	if !p.configured {
		return ErrNotConfigured
	}
	if len(p.in) >= p.bank {
		return ErrBankFull
	}
	p.in = append(p.in, b)
	return nil
}

func (p *PTY) BankSize() int { return p.bank }

func (p *PTY) ConfigureEndpoints() bool {
	if !p.attached || p.bank < 2 {
		p.configured = false
		return false
	}
	p.in = make([]byte, 0, p.bank)
	p.out = nil
	p.configured = true
	return true
}

func (p *PTY) Task() {
	if now := p.now(); now.Sub(p.lastPoll) >= statusPollInterval {
		p.lastPoll = now
		p.pollStatus()
	}
	if !p.configured {
		return
	}
	p.flushIN()
	p.fillOUT()
}

func (p *PTY) pollStatus() {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, 0); err != nil && !errors.Is(err, unix.EINTR) {
		p.log.Warn("cdc_poll_error", "error", err)
		return
	}
	hup := fds[0].Revents&unix.POLLHUP != 0
	ev := p.sink()
	switch {
	case !hup && !p.attached:
		p.attached = true
		p.coding = LineCoding{}
		p.log.Info("cdc_host_attached", "device", p.Path())
		if ev != nil {
			ev.Connect()
			ev.ConfigurationChanged()
		}
	case hup && p.attached:
		p.attached, p.configured = false, false
		p.in, p.out = p.in[:0], nil
		p.log.Info("cdc_host_detached", "device", p.Path())
		if ev != nil {
			ev.Disconnect()
		}
		return
	}
	if p.attached {
		p.checkTermios(ev)
	}
}

// checkTermios turns a host-side termios change into SET_LINE_CODING.
func (p *PTY) checkTermios(ev Events) {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		metrics.IncError(metrics.ErrUSBControl)
		p.log.Warn("cdc_tcgets_error", "error", err)
		return
	}
	lc := lineCodingFromTermios(t)
	if lc == p.coding {
		return
	}
	p.coding = lc
	if ev != nil {
		ev.ControlRequest(NewSetLineCoding(lc))
	}
}

func (p *PTY) flushIN() {
	for len(p.in) > 0 {
		n, err := unix.Write(p.fd, p.in)
		if n > 0 {
			p.in = append(p.in[:0], p.in[n:]...)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		metrics.IncError(metrics.ErrUSBWrite)
		p.log.Warn("cdc_write_error", "error", err, "dropped", len(p.in))
		p.in = p.in[:0]
		return
	}
}

func (p *PTY) fillOUT() {
	if len(p.out) > 0 {
		return
	}
	n, err := unix.Read(p.fd, p.outBuf)
	if n > 0 {
		p.out = p.outBuf[:n]
	}
	if err == nil || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return
	}
	if errors.Is(err, unix.EIO) {
		return // host closed; the next status poll reports the detach
	}
	metrics.IncError(metrics.ErrUSBRead)
	p.log.Warn("cdc_read_error", "error", err)
}

// Close releases the master and removes the link.
func (p *PTY) Close() error {
	if p.link != "" {
		_ = os.Remove(p.link)
	}
	return unix.Close(p.fd)
}
