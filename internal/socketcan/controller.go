//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/mlasek/can-echo-node/internal/can"
	"github.com/mlasek/can-echo-node/internal/filter"
	"github.com/mlasek/can-echo-node/internal/logging"
)

var ErrNotOpen = errors.New("socketcan: bus not initialized")

// Controller drives a raw CAN socket as the relay's controller. The
// acceptance table is installed as kernel can_filter entries, so
// rejected frames never reach the process.
type Controller struct {
	iface string
	fd    int
}

func New(iface string) *Controller { return &Controller{iface: iface, fd: -1} }

// InitBus opens and binds the raw CAN socket. Bit timing lives on the
// kernel link (ip link set ... bitrate), not on the socket; the
// requested rate is logged so a mismatch is visible to the operator.
func (c *Controller) InitBus(bitrate uint32) error {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(c.iface)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("if %q: %w", c.iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind(can@%s): %w", c.iface, err)
	}
	c.fd = fd
	logging.L().Info("socketcan_open", "if", c.iface, "bitrate", bitrate)
	return nil
}

// ConfigureFilters installs the acceptance table on the socket.
func (c *Controller) ConfigureFilters(tbl filter.Table) error {
	if c.fd < 0 {
		return ErrNotOpen
	}
	if err := unix.SetsockoptCanRawFilter(c.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, KernelFilters(tbl)); err != nil {
		return fmt.Errorf("set can_raw_filter: %w", err)
	}
	return nil
}

// KernelFilters flattens the two-group table into kernel can_filter
// entries. The kernel accepts a frame when (recv_id & mask) ==
// (id & mask) for any entry. CAN_EFF_FLAG is part of every mask so an
// entry only matches its own width class; CAN_RTR_FLAG is left out so
// data and remote frames both pass, as controller-level acceptance
// filtering does.
func KernelFilters(tbl filter.Table) []unix.CanFilter {
	out := make([]unix.CanFilter, 0, filter.Group0Filters+filter.Group1Filters)
	for _, g := range tbl.Groups {
		mask := g.Mask | can.FlagExtended
		for _, e := range g.Entries {
			id := e.ID
			if e.Extended {
				id |= can.FlagExtended
			}
			out = append(out, unix.CanFilter{Id: id, Mask: mask})
		}
	}
	return out
}

// FrameAvailable polls the socket without blocking.
func (c *Controller) FrameAvailable() bool {
	if c.fd < 0 {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

// ReceiveFrame reads one classic CAN frame from the raw CAN socket.
//
// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel provides fields in host byte order. On common Linux
// archs (little-endian) this matches binary.LittleEndian.
func (c *Controller) ReceiveFrame() (can.Frame, error) {
	if c.fd < 0 {
		return can.Frame{}, ErrNotOpen
	}
	var buf [unix.CAN_MTU]byte // classic CAN MTU = 16 bytes
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		return can.Frame{}, err
	}
	if n != unix.CAN_MTU {
		return can.Frame{}, fmt.Errorf("short read: %d", n)
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	var fr can.Frame
	fr.Extended = id&can.FlagExtended != 0
	fr.RTR = id&can.FlagRTR != 0
	fr.ID = id & fr.WidthMask()
	dlc := buf[4]
	if dlc > 8 {
		dlc = 8
	}
	fr.Len = dlc
	copy(fr.Data[:], buf[8:8+dlc])
	return fr, nil
}

// TransmitFrame writes one classic CAN frame to the raw CAN socket.
func (c *Controller) TransmitFrame(fr can.Frame) error {
	if c.fd < 0 {
		return ErrNotOpen
	}
	if err := fr.Validate(); err != nil {
		return err
	}
	id := fr.ID
	if fr.Extended {
		id |= can.FlagExtended
	}
	if fr.RTR {
		id |= can.FlagRTR
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	_, err := unix.Write(c.fd, buf[:])
	return err
}

func (c *Controller) Close() error {
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	return unix.Close(fd)
}
