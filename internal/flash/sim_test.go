package flash

import (
	"bytes"
	"testing"
)

// prepare unlocks and unprotects the device the way a programming
// session does.
func prepare(s *Sim) {
	s.UnlockProtection()
	s.SetProtectionMask(ProtectNone)
	s.UnlockProtection()
	s.SetEraseTiming(EraseDivisor)
}

func TestSim_BlankDeviceIsErased(t *testing.T) {
	s := NewSim()
	for i, b := range s.Contents() {
		if b != 0xFF {
			t.Fatalf("blank device byte %d = 0x%02X, want 0xFF", i, b)
		}
	}
	if !s.Protected(0) || !s.Protected(PageCount-1) {
		t.Error("blank device should power up fully protected")
	}
}

func TestSim_WriteReadRoundTrip(t *testing.T) {
	s := NewSim()
	prepare(s)
	s.ErasePage(0)

	src := []byte{0x12, 0x34, 0x56, 0x78}
	s.WriteBlock(0, src)

	got := make([]byte, len(src))
	s.ReadBlock(0, got)
	if !bytes.Equal(got, src) {
		t.Errorf("ReadBlock after WriteBlock = %v, want %v", got, src)
	}
}

func TestSim_ProtectedRegisterNeedsUnlock(t *testing.T) {
	s := NewSim()

	// No unlock: the mask write must be dropped.
	s.SetProtectionMask(ProtectNone)
	if !s.Protected(0) {
		t.Error("SetProtectionMask without unlock should be ignored")
	}
	if s.IgnoredWrites != 1 {
		t.Errorf("IgnoredWrites = %d, want 1", s.IgnoredWrites)
	}

	// One unlock covers exactly one protected write.
	s.UnlockProtection()
	s.SetProtectionMask(ProtectNone)
	if s.Protected(0) {
		t.Error("SetProtectionMask after unlock should take effect")
	}
	s.SetEraseTiming(EraseDivisor)
	if s.TimingWrites != 0 {
		t.Error("second protected write must not reuse a spent unlock")
	}
}

func TestSim_WriteToProtectedBlockDropped(t *testing.T) {
	s := NewSim()
	prepare(s)
	s.ErasePage(0)

	// Re-protect everything, then try to write.
	s.UnlockProtection()
	s.SetProtectionMask(ProtectAll)
	s.WriteBlock(0, []byte{0x00})

	got := make([]byte, 1)
	s.ReadBlock(0, got)
	if got[0] != 0xFF {
		t.Errorf("write to protected block changed flash: 0x%02X", got[0])
	}
}

func TestSim_UnerasedWriteCorrupts(t *testing.T) {
	s := NewSim()
	prepare(s)
	s.ErasePage(0)

	s.WriteBlock(0, []byte{0xF0})
	s.WriteBlock(0, []byte{0x0F})

	// Second write without an erase can only clear more bits.
	got := make([]byte, 1)
	s.ReadBlock(0, got)
	if got[0] != 0x00 {
		t.Errorf("overlapping writes = 0x%02X, want 0x00 (bits AND together)", got[0])
	}
}

func TestSim_EraseRestoresBlankState(t *testing.T) {
	s := NewSim()
	prepare(s)
	s.ErasePage(3)
	s.WriteBlock(3*PageSize, bytes.Repeat([]byte{0xAA}, PageSize))
	s.ErasePage(3)

	got := make([]byte, PageSize)
	s.ReadBlock(3*PageSize, got)
	for i, b := range got {
		if b != 0xFF {
			t.Fatalf("byte %d after erase = 0x%02X, want 0xFF", i, b)
		}
	}
	if s.Erases[3] != 2 {
		t.Errorf("Erases[3] = %d, want 2", s.Erases[3])
	}
}

func TestSim_EraseWithoutTimingIsNoop(t *testing.T) {
	s := NewSim()
	s.UnlockProtection()
	s.SetProtectionMask(ProtectNone)
	s.WriteBlock(0, []byte{0x00})

	s.ErasePage(0)

	got := make([]byte, 1)
	s.ReadBlock(0, got)
	if got[0] != 0x00 {
		t.Error("erase without configured timing should not complete")
	}
}

func TestBlockOf(t *testing.T) {
	tests := []struct {
		page int
		want int
	}{
		{0, 0},
		{15, 0},
		{16, 1},
		{127, 7},
	}
	for _, tc := range tests {
		if got := blockOf(tc.page); got != tc.want {
			t.Errorf("blockOf(%d) = %d, want %d", tc.page, got, tc.want)
		}
	}
}
