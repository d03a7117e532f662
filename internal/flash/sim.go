package flash

// Sim is an in-memory flash device implementing Controller. It models
// the failure modes real hardware has but never reports:
//
//   - writes AND into existing cell contents, so writing a page that
//     was not erased first leaves garbage behind;
//   - writes into a protected block are dropped;
//   - a protected-register write without an immediately preceding
//     unlock is ignored, and one protected write consumes the unlock.
//
// A blank device holds 0xFF everywhere, as erased NOR flash does.
type Sim struct {
	mem [Size]byte

	unlocked bool
	protMask byte
	divisor  byte

	// counters observable by tests
	Erases        [PageCount]int
	UnlockCount   int
	SuspendDepth  int
	MaxSuspend    int
	TimingWrites  int
	IgnoredWrites int
}

// NewSim returns a blank (fully erased, fully protected) device.
func NewSim() *Sim {
	s := &Sim{protMask: ProtectAll}
	for i := range s.mem {
		s.mem[i] = 0xFF
	}
	return s
}

func (s *Sim) UnlockProtection() {
	s.unlocked = true
	s.UnlockCount++
}

// consumeUnlock reports whether a protected-register write may proceed,
// and spends the unlock either way.
func (s *Sim) consumeUnlock() bool {
	ok := s.unlocked
	s.unlocked = false
	if !ok {
		s.IgnoredWrites++
	}
	return ok
}

func (s *Sim) SetProtectionMask(mask byte) {
	if !s.consumeUnlock() {
		return
	}
	s.protMask = mask
}

func (s *Sim) SetEraseTiming(divisor byte) {
	if !s.consumeUnlock() {
		return
	}
	s.divisor = divisor
	s.TimingWrites++
}

func (s *Sim) ErasePage(index int) {
	if index < 0 || index >= PageCount {
		return
	}
	if s.protMask&(1<<blockOf(index)) != 0 {
		return
	}
	if s.divisor == 0 {
		// Erase pulse timing never configured; the hardware would
		// produce an incomplete erase. Model it as a no-op.
		return
	}
	base := index * PageSize
	for i := base; i < base+PageSize; i++ {
		s.mem[i] = 0xFF
	}
	s.Erases[index]++
}

func (s *Sim) WriteBlock(dst uint32, src []byte) {
	for i, b := range src {
		addr := int(dst) + i
		if addr >= Size {
			return
		}
		if s.protMask&(1<<blockOf(addr/PageSize)) != 0 {
			continue
		}
		// NOR flash programming can only clear bits.
		s.mem[addr] &= b
	}
}

func (s *Sim) ReadBlock(addr uint32, p []byte) {
	copy(p, s.mem[addr:])
}

func (s *Sim) SuspendInterrupts() {
	s.SuspendDepth++
	if s.SuspendDepth > s.MaxSuspend {
		s.MaxSuspend = s.SuspendDepth
	}
}

func (s *Sim) ResumeInterrupts() {
	s.SuspendDepth--
}

// Protected reports whether the block containing page index is
// currently write-protected.
func (s *Sim) Protected(page int) bool {
	return s.protMask&(1<<blockOf(page)) != 0
}

// Contents returns the device contents; test helper.
func (s *Sim) Contents() []byte {
	return s.mem[:]
}

func blockOf(page int) int {
	return page / (BlockSize / PageSize)
}
