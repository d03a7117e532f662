package mos

import "fmt"

// StagingError indicates the image read into the staging buffer does
// not match the expected checksum. No flash was touched; the caller can
// abort cleanly.
type StagingError struct {
	Expected uint32
	Actual   uint32
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staged image corrupt: CRC 0x%08X, want 0x%08X", e.Actual, e.Expected)
}

// VerifyError indicates one programming attempt left flash contents
// that fail the CRC re-scan. Recoverable by retrying the erase+write
// cycle.
type VerifyError struct {
	Attempt  int
	Expected uint32
	Actual   uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("attempt %d: flash CRC 0x%08X, want 0x%08X", e.Attempt, e.Actual, e.Expected)
}

// FatalError indicates all programming attempts failed verification.
// The flash is in an indeterminate state and the running firmware may
// be partially overwritten; the only safe response is to halt and
// recover bare-metal.
type FatalError struct {
	Attempts int
	Last     *VerifyError
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("flash programming failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *FatalError) Unwrap() error {
	return e.Last
}
