package cdc

import (
	"encoding/binary"
	"fmt"
)

// LineCodingSize is the length of the SET/GET_LINE_CODING payload.
const LineCodingSize = 7

// bCharFormat values.
const (
	CharFormat1Stop  = 0
	CharFormat15Stop = 1
	CharFormat2Stop  = 2
)

// bParityType values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// LineCoding is the CDC line coding structure.
type LineCoding struct {
	DTERate    uint32 // bits per second
	CharFormat uint8
	ParityType uint8
	DataBits   uint8
}

// ParseLineCoding decodes the little-endian wire form. Trailing bytes are
// ignored.
func ParseLineCoding(b []byte) (LineCoding, error) {
	if len(b) < LineCodingSize {
		return LineCoding{}, fmt.Errorf("%w: %d bytes", ErrShortLineCoding, len(b))
	}
	lc := LineCoding{
		DTERate:    binary.LittleEndian.Uint32(b[0:4]),
		CharFormat: b[4],
		ParityType: b[5],
		DataBits:   b[6],
	}
	return lc, nil
}

// Marshal encodes lc in wire form.
func (lc LineCoding) Marshal() []byte {
	b := make([]byte, LineCodingSize)
	binary.LittleEndian.PutUint32(b[0:4], lc.DTERate)
	b[4] = lc.CharFormat
	b[5] = lc.ParityType
	b[6] = lc.DataBits
	return b
}

// Validate checks the fields against the ranges the class defines.
func (lc LineCoding) Validate() error {
	if lc.CharFormat > CharFormat2Stop {
		return fmt.Errorf("%w: char format %d", ErrInvalidLineCoding, lc.CharFormat)
	}
	if lc.ParityType > ParitySpace {
		return fmt.Errorf("%w: parity %d", ErrInvalidLineCoding, lc.ParityType)
	}
	switch lc.DataBits {
	case 5, 6, 7, 8, 16:
	default:
		return fmt.Errorf("%w: data bits %d", ErrInvalidLineCoding, lc.DataBits)
	}
	return nil
}

func (lc LineCoding) String() string {
	p := "?"
	if int(lc.ParityType) < len("NOEMS") {
		p = string("NOEMS"[lc.ParityType])
	}
	stop := "1"
	switch lc.CharFormat {
	case CharFormat15Stop:
		stop = "1.5"
	case CharFormat2Stop:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, p, stop)
}
