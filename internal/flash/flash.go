// Package flash models the ez80F92 internal code flash: 128 pages of
// 1 KiB, write-protected in eight 16 KiB blocks, programmed through a
// small set of key-locked control registers.
package flash

// Flash geometry.
const (
	PageSize   = 1024
	PageCount  = 128
	Size       = PageSize * PageCount // 128 KiB
	BlockSize  = 16 * 1024
	BlockCount = Size / BlockSize
	Start      = 0x0
)

// Protection mask values: one bit per 16 KiB block, 1 = protected.
const (
	ProtectNone = 0x00
	ProtectAll  = 0xFF
)

// EraseDivisor is the frequency-divider value for the erase pulse
// timing: ceil(18 MHz system clock * 5.1 us erase pulse) = 95.
const EraseDivisor = 0x5F

// Controller is the register-level flash access interface. None of the
// operations report errors: the hardware has no status reporting, and
// misuse (writing an unerased or protected page, skipping an unlock)
// silently corrupts flash contents. Corruption is caught only by the
// CRC re-scan after programming.
//
// All operations require external synchronization; the registers are
// shared, non-reentrant hardware state.
type Controller interface {
	// UnlockProtection writes the two-byte key sequence to the flash
	// key register. The unlock covers exactly one following write to a
	// protected register (protection mask, page select/control,
	// frequency divider) and must be re-issued before each one.
	UnlockProtection()

	// SetProtectionMask sets the block write-protection mask. Must be
	// immediately preceded by UnlockProtection.
	SetProtectionMask(mask byte)

	// SetEraseTiming programs the erase-pulse frequency divider. Must
	// be immediately preceded by UnlockProtection. Configured once per
	// programming session.
	SetEraseTiming(divisor byte)

	// ErasePage selects page index, starts the erase, and busy-polls
	// the control register until the hardware clears the erase bit.
	// Blocking; duration is device-determined.
	ErasePage(index int)

	// WriteBlock copies src into flash starting at dst using the
	// hardware-assisted linear copy. The destination pages must be
	// erased and unprotected; src and the destination must not overlap.
	WriteBlock(dst uint32, src []byte)

	// ReadBlock fills p from flash starting at addr. The flash is
	// memory-mapped, so reads always succeed.
	ReadBlock(addr uint32, p []byte)

	// SuspendInterrupts stops all interrupt-driven activity before
	// flash holding live code is mutated. ResumeInterrupts undoes it;
	// callers pair the two even on failure paths.
	SuspendInterrupts()
	ResumeInterrupts()
}
