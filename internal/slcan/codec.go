// Package slcan speaks the serial-line CAN (SLCAN / LAWICEL) ASCII
// protocol used by USB CAN adapters. One frame per CR-terminated
// line:
//
//	tIIIL DD..   standard data frame (3 hex id digits, len digit, data)
//	TIIIIIIIIL DD..  extended data frame (8 hex id digits)
//	rIIIL / RIIIIIIIIL  remote request, no data bytes
package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mlasek/can-echo-node/internal/can"
)

var (
	ErrMalformed      = errors.New("slcan: malformed line")
	ErrUnknownBitrate = errors.New("slcan: unsupported bitrate")
)

// BitrateCode maps a bus bit rate to the adapter's Sn setup command
// digit.
func BitrateCode(bitrate uint32) (byte, error) {
	switch bitrate {
	case 10000:
		return '0', nil
	case 20000:
		return '1', nil
	case 50000:
		return '2', nil
	case 100000:
		return '3', nil
	case 125000:
		return '4', nil
	case 250000:
		return '5', nil
	case 500000:
		return '6', nil
	case 800000:
		return '7', nil
	case 1000000:
		return '8', nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownBitrate, bitrate)
}

// Marshal renders one frame as an SLCAN line including the trailing CR.
func Marshal(fr can.Frame) ([]byte, error) {
	if err := fr.Validate(); err != nil {
		return nil, err
	}
	var out []byte
	switch {
	case fr.Extended && fr.RTR:
		out = append(out, 'R')
	case fr.Extended:
		out = append(out, 'T')
	case fr.RTR:
		out = append(out, 'r')
	default:
		out = append(out, 't')
	}
	if fr.Extended {
		out = append(out, hexID(fr.ID, 8)...)
	} else {
		out = append(out, hexID(fr.ID, 3)...)
	}
	out = append(out, '0'+fr.Len)
	if !fr.RTR {
		dst := make([]byte, fr.Len*2)
		hex.Encode(dst, fr.Payload())
		out = append(out, toUpper(dst)...)
	}
	return append(out, '\r'), nil
}

// Unmarshal parses one SLCAN line (without the CR).
func Unmarshal(line []byte) (can.Frame, error) {
	if len(line) == 0 {
		return can.Frame{}, ErrMalformed
	}
	var fr can.Frame
	idDigits := 3
	switch line[0] {
	case 't':
	case 'T':
		fr.Extended = true
		idDigits = 8
	case 'r':
		fr.RTR = true
	case 'R':
		fr.Extended = true
		fr.RTR = true
		idDigits = 8
	default:
		return can.Frame{}, fmt.Errorf("%w: type %q", ErrMalformed, line[0])
	}
	if len(line) < 1+idDigits+1 {
		return can.Frame{}, fmt.Errorf("%w: truncated header", ErrMalformed)
	}
	id, err := parseHex(line[1 : 1+idDigits])
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	fr.ID = id
	dlc := line[1+idDigits]
	if dlc < '0' || dlc > '8' {
		return can.Frame{}, fmt.Errorf("%w: dlc %q", ErrMalformed, dlc)
	}
	fr.Len = dlc - '0'
	if !fr.RTR {
		body := line[1+idDigits+1:]
		if len(body) != int(fr.Len)*2 {
			return can.Frame{}, fmt.Errorf("%w: data length %d for dlc %d", ErrMalformed, len(body), fr.Len)
		}
		if _, err := hex.Decode(fr.Data[:fr.Len], body); err != nil {
			return can.Frame{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
	} else if len(line) != 1+idDigits+1 {
		return can.Frame{}, fmt.Errorf("%w: rtr frame carries data", ErrMalformed)
	}
	if err := fr.Validate(); err != nil {
		return can.Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fr, nil
}

func hexID(id uint32, digits int) []byte {
	out := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		out[i] = "0123456789ABCDEF"[id&0xF]
		id >>= 4
	}
	return out
}

func parseHex(b []byte) (uint32, error) {
	var v uint32
	for _, c := range b {
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0, fmt.Errorf("bad hex digit %q", c)
		}
		v = v<<4 | d
	}
	return v, nil
}

func toUpper(b []byte) []byte {
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return b
}
