// Package filter models the two-group hardware acceptance filter
// configuration of MCP2515-class CAN controllers: group 0 holds two
// filters behind one mask, group 1 holds four filters behind a second
// mask. A table is built once at boot, handed to the controller, and
// never mutated afterwards.
package filter

import (
	"errors"
	"fmt"

	"github.com/mlasek/can-echo-node/internal/can"
)

// Group sizes fixed by the controller's register layout.
const (
	Group0Filters = 2
	Group1Filters = 4
)

var (
	ErrGroupSize  = errors.New("filter: wrong number of filters for group")
	ErrMixedWidth = errors.New("filter: filters in a group must share the mask's width class")
	ErrWidth      = errors.New("filter: value exceeds width class")
)

// Entry is a single acceptance filter tagged with its identifier width.
type Entry struct {
	ID       uint32
	Extended bool
}

// Std and Ext build tagged entries; they mirror how the register table
// is written out in controller init code.
func Std(id uint32) Entry { return Entry{ID: id} }
func Ext(id uint32) Entry { return Entry{ID: id, Extended: true} }

// Group is a set of filters sharing one mask and one width class.
//
// Per bit n of an incoming identifier: mask bit 0 means don't-care,
// mask bit 1 means the incoming bit must equal the filter bit. A group
// with an all-zero mask therefore accepts every frame of its width
// class.
type Group struct {
	Entries  []Entry
	Mask     uint32
	Extended bool
}

func (g Group) widthMask() uint32 {
	if g.Extended {
		return can.MaskExtended
	}
	return can.MaskStandard
}

func (g Group) validate(want int) error {
	if len(g.Entries) != want {
		return fmt.Errorf("%w: got %d want %d", ErrGroupSize, len(g.Entries), want)
	}
	wm := g.widthMask()
	if g.Mask > wm {
		return fmt.Errorf("%w: mask 0x%X", ErrWidth, g.Mask)
	}
	for i, e := range g.Entries {
		if e.Extended != g.Extended {
			return fmt.Errorf("%w: filter %d", ErrMixedWidth, i)
		}
		if e.ID > wm {
			return fmt.Errorf("%w: filter %d id 0x%X", ErrWidth, i, e.ID)
		}
	}
	return nil
}

// Accepts reports whether the group delivers the frame. The frame's
// width class must match the group's; within the class, any single
// filter matching under the shared mask accepts.
func (g Group) Accepts(f can.Frame) bool {
	if f.Extended != g.Extended {
		return false
	}
	for _, e := range g.Entries {
		if f.ID&g.Mask == e.ID&g.Mask {
			return true
		}
	}
	return false
}

// Table is the full acceptance configuration: 6 filters and 2 masks.
type Table struct {
	Groups [2]Group
}

// NewTable validates and assembles the two groups. Group 0 must carry
// exactly two filters, group 1 exactly four, and every filter must
// carry the same width tag as its group's mask.
func NewTable(g0, g1 Group) (Table, error) {
	if err := g0.validate(Group0Filters); err != nil {
		return Table{}, fmt.Errorf("group 0: %w", err)
	}
	if err := g1.validate(Group1Filters); err != nil {
		return Table{}, fmt.Errorf("group 1: %w", err)
	}
	return Table{Groups: [2]Group{g0, g1}}, nil
}

// MustTable is NewTable for compile-time-fixed tables; it panics on a
// malformed table.
func MustTable(g0, g1 Group) Table {
	t, err := NewTable(g0, g1)
	if err != nil {
		panic(err)
	}
	return t
}

// Accepts reports whether any group delivers the frame.
func (t Table) Accepts(f can.Frame) bool {
	return t.Groups[0].Accepts(f) || t.Groups[1].Accepts(f)
}

// Deployment is the fixed table this node boots with.
//
// Group 0 screens for identifier 0x000 under mask 0x7F3: bits 2..3 are
// don't-care, so 0x000, 0x004, 0x008 and 0x00C all land in one accept
// rule. Group 1 matches 0x0FF exactly. Both groups are tagged
// standard, so no extended frame is ever delivered.
func Deployment() Table {
	return MustTable(
		Group{Entries: []Entry{Std(0x000), Std(0x000)}, Mask: 0x7F3},
		Group{Entries: []Entry{Std(0x0FF), Std(0x0FF), Std(0x0FF), Std(0x0FF)}, Mask: 0x7FF},
	)
}
