package can

import "errors"

// Identifier width masks, same values as <linux/can.h>.
const (
	MaskStandard = 0x7FF      // 11-bit identifier
	MaskExtended = 0x1FFFFFFF // 29-bit identifier
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>).
const (
	FlagExtended = 0x80000000
	FlagRTR      = 0x40000000
	FlagError    = 0x20000000
)

var (
	ErrInvalidID  = errors.New("can: identifier exceeds width class")
	ErrInvalidLen = errors.New("can: payload length exceeds 8")
)

// Frame is one classical CAN (2.0A/2.0B) message. A frame is a plain
// value: once built it is only ever copied, never mutated in place.
// Only the first Len bytes of Data are valid.
type Frame struct {
	ID       uint32 // 11-bit (standard) or 29-bit (extended)
	Extended bool
	RTR      bool
	Len      uint8 // 0..8
	Data     [8]byte
}

// New builds a validated data frame.
func New(id uint32, extended bool, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Extended: extended, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the identifier against its width class and the length.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	if f.ID > f.WidthMask() {
		return ErrInvalidID
	}
	return nil
}

// WidthMask returns the maximum identifier for the frame's width class.
func (f Frame) WidthMask() uint32 {
	if f.Extended {
		return MaskExtended
	}
	return MaskStandard
}

// Payload returns the valid portion of the data bytes.
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// ShiftID returns a copy of the frame with the identifier moved by
// offset. The sum wraps modulo the width class so the result is always
// a valid identifier of the same class; no other field changes.
func (f Frame) ShiftID(offset uint32) Frame {
	f.ID = (f.ID + offset) & f.WidthMask()
	return f
}
