//go:build linux

package cdc

import "golang.org/x/sys/unix"

var cbaudRates = map[uint32]uint32{
	unix.B50:      50,
	unix.B75:      75,
	unix.B110:     110,
	unix.B134:     134,
	unix.B150:     150,
	unix.B200:     200,
	unix.B300:     300,
	unix.B600:     600,
	unix.B1200:    1200,
	unix.B1800:    1800,
	unix.B2400:    2400,
	unix.B4800:    4800,
	unix.B9600:    9600,
	unix.B19200:   19200,
	unix.B38400:   38400,
	unix.B57600:   57600,
	unix.B115200:  115200,
	unix.B230400:  230400,
	unix.B460800:  460800,
	unix.B500000:  500000,
	unix.B576000:  576000,
	unix.B921600:  921600,
	unix.B1000000: 1000000,
	unix.B1152000: 1152000,
	unix.B1500000: 1500000,
	unix.B2000000: 2000000,
	unix.B2500000: 2500000,
	unix.B3000000: 3000000,
	unix.B3500000: 3500000,
	unix.B4000000: 4000000,
}

// lineCodingFromTermios maps the slave's c_cflag onto a CDC line coding.
// B0 (hang up) yields a zero rate.
func lineCodingFromTermios(t *unix.Termios) LineCoding {
	var lc LineCoding
	if cb := t.Cflag & unix.CBAUD; cb == unix.BOTHER {
		lc.DTERate = t.Ospeed
	} else {
		lc.DTERate = cbaudRates[cb]
	}
	switch t.Cflag & unix.CSIZE {
	case unix.CS5:
		lc.DataBits = 5
	case unix.CS6:
		lc.DataBits = 6
	case unix.CS7:
		lc.DataBits = 7
	default:
		lc.DataBits = 8
	}
	if t.Cflag&unix.CSTOPB != 0 {
		lc.CharFormat = CharFormat2Stop
	}
	if t.Cflag&unix.PARENB != 0 {
		odd := t.Cflag&unix.PARODD != 0
		switch {
		case t.Cflag&unix.CMSPAR != 0 && odd:
			lc.ParityType = ParityMark
		case t.Cflag&unix.CMSPAR != 0:
			lc.ParityType = ParitySpace
		case odd:
			lc.ParityType = ParityOdd
		default:
			lc.ParityType = ParityEven
		}
	}
	return lc
}

// makeRaw is cfmakeraw(3).
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func setRate(t *unix.Termios, rate uint32) {
	for cb, r := range cbaudRates {
		if r == rate {
			t.Cflag = t.Cflag&^unix.CBAUD | cb
			t.Ispeed, t.Ospeed = rate, rate
			return
		}
	}
	t.Cflag = t.Cflag&^unix.CBAUD | unix.BOTHER
	t.Ispeed, t.Ospeed = rate, rate
}
