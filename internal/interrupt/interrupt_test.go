package interrupt

import "testing"

func TestPendingPriorityOrder(t *testing.T) {
	// All requested and enabled: VBlank wins.
	if got, ok := Pending(0x1F, 0x1F); !ok || got != VBlank {
		t.Fatalf("got %v/%v want VBlank", got, ok)
	}
	// VBlank masked out: STAT next.
	if got, ok := Pending(0x1E, 0x1F); !ok || got != LCDStat {
		t.Fatalf("got %v/%v want LCDStat", got, ok)
	}
	// Only Joypad.
	if got, ok := Pending(0x10, 0x10); !ok || got != Joypad {
		t.Fatalf("got %v/%v want Joypad", got, ok)
	}
}

func TestPendingRequiresEnableAndRequest(t *testing.T) {
	if _, ok := Pending(0x00, 0x1F); ok {
		t.Fatalf("disabled sources must not be pending")
	}
	if _, ok := Pending(0x1F, 0x00); ok {
		t.Fatalf("unrequested sources must not be pending")
	}
	// Upper bits of IF are unused and must not leak in.
	if _, ok := Pending(0xE0, 0xE0); ok {
		t.Fatalf("bits above 4 must be ignored")
	}
}

func TestVectors(t *testing.T) {
	want := map[Interrupt]uint16{
		VBlank:  0x0040,
		LCDStat: 0x0048,
		Timer:   0x0050,
		Serial:  0x0058,
		Joypad:  0x0060,
	}
	for i, v := range want {
		if got := i.Vector(); got != v {
			t.Fatalf("%v vector got %04X want %04X", i, got, v)
		}
	}
}
