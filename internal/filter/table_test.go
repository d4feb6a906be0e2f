package filter

import (
	"errors"
	"testing"

	"github.com/mlasek/can-echo-node/internal/can"
)

func std(id uint32) can.Frame { return can.Frame{ID: id} }
func ext(id uint32) can.Frame { return can.Frame{ID: id, Extended: true} }

func accepted() map[uint32]bool {
	return map[uint32]bool{0x000: true, 0x004: true, 0x008: true, 0x00C: true, 0x0FF: true}
}

// TestDeploymentAcceptanceSet sweeps the whole standard identifier
// space and checks the table accepts exactly the five deployment ids.
func TestDeploymentAcceptanceSet(t *testing.T) {
	tbl := Deployment()
	want := accepted()
	for id := uint32(0); id <= can.MaskStandard; id++ {
		got := tbl.Accepts(std(id))
		if got != want[id] {
			t.Fatalf("standard id 0x%03X: accepted=%v want %v", id, got, want[id])
		}
	}
}

// TestDeploymentRejectsExtended verifies no extended identifier passes,
// including ones numerically equal to accepted standard ids.
func TestDeploymentRejectsExtended(t *testing.T) {
	tbl := Deployment()
	for _, id := range []uint32{0x000, 0x004, 0x008, 0x00C, 0x0FF, 0x123456, 0x1FFFFFFF} {
		if tbl.Accepts(ext(id)) {
			t.Fatalf("extended id 0x%X accepted by standard-only table", id)
		}
	}
}

func TestMaskDontCareBits(t *testing.T) {
	g := Group{Entries: []Entry{Std(0x000), Std(0x000)}, Mask: 0x7F3}
	for _, id := range []uint32{0x000, 0x004, 0x008, 0x00C} {
		if !g.Accepts(std(id)) {
			t.Fatalf("id 0x%03X should pass mask 0x7F3", id)
		}
	}
	for _, id := range []uint32{0x001, 0x002, 0x00E, 0x010, 0x7FF} {
		if g.Accepts(std(id)) {
			t.Fatalf("id 0x%03X should fail mask 0x7F3", id)
		}
	}
}

// TestZeroMaskCatchGroup checks the accept-all behavior used to build
// catch-groups: an all-zero mask accepts every frame of the group's
// width class and nothing from the other class.
func TestZeroMaskCatchGroup(t *testing.T) {
	g := Group{Entries: []Entry{Std(0x000), Std(0x000)}, Mask: 0x000}
	for _, id := range []uint32{0x000, 0x123, 0x7FF} {
		if !g.Accepts(std(id)) {
			t.Fatalf("zero mask rejected standard id 0x%03X", id)
		}
	}
	if g.Accepts(ext(0x123)) {
		t.Fatalf("zero-mask standard group accepted an extended frame")
	}

	ge := Group{Entries: []Entry{Ext(0), Ext(0), Ext(0), Ext(0)}, Mask: 0, Extended: true}
	if !ge.Accepts(ext(0x123456)) || ge.Accepts(std(0x123)) {
		t.Fatalf("zero-mask extended group has wrong width screening")
	}
}

func TestGroupMatchesAnyFilter(t *testing.T) {
	g := Group{Entries: []Entry{Std(0x100), Std(0x200)}, Mask: 0x7FF}
	if !g.Accepts(std(0x100)) || !g.Accepts(std(0x200)) {
		t.Fatalf("group should accept either of its filters")
	}
	if g.Accepts(std(0x300)) {
		t.Fatalf("group accepted an id matching no filter")
	}
}

func TestNewTableValidation(t *testing.T) {
	ok0 := Group{Entries: []Entry{Std(0), Std(0)}, Mask: 0x7F3}
	ok1 := Group{Entries: []Entry{Std(0xFF), Std(0xFF), Std(0xFF), Std(0xFF)}, Mask: 0x7FF}

	tests := []struct {
		name string
		g0   Group
		g1   Group
		err  error
	}{
		{"group0Size", Group{Entries: []Entry{Std(0)}, Mask: 0}, ok1, ErrGroupSize},
		{"group1Size", ok0, Group{Entries: []Entry{Std(0)}, Mask: 0}, ErrGroupSize},
		{"mixedWidth", Group{Entries: []Entry{Std(0), Ext(0)}, Mask: 0}, ok1, ErrMixedWidth},
		{"filterTooWide", Group{Entries: []Entry{Std(0x800), Std(0)}, Mask: 0}, ok1, ErrWidth},
		{"maskTooWide", Group{Entries: []Entry{Std(0), Std(0)}, Mask: 0x800}, ok1, ErrWidth},
	}
	for _, tc := range tests {
		if _, err := NewTable(tc.g0, tc.g1); !errors.Is(err, tc.err) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.err)
		}
	}

	if _, err := NewTable(ok0, ok1); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}
	// 29-bit masks are valid on extended groups
	e0 := Group{Entries: []Entry{Ext(0x123456), Ext(0x123456)}, Mask: 0x1FFFFFFF, Extended: true}
	e1 := Group{Entries: []Entry{Ext(0), Ext(0), Ext(0), Ext(0)}, Extended: true}
	if _, err := NewTable(e0, e1); err != nil {
		t.Fatalf("valid extended table rejected: %v", err)
	}
}
