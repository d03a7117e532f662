// Package mos programs the MOS firmware image into the internal code
// flash: stage the image into RAM, verify it against a precomputed
// CRC-32, then erase and rewrite the whole device page by page with a
// post-write CRC re-scan and bounded retries.
package mos

import (
	"fmt"
	"io"

	"github.com/bigbag/agon-flasher/internal/checksum"
	"github.com/bigbag/agon-flasher/internal/flash"
)

const (
	// StagingBlockSize is the read granularity while staging the image
	// and re-scanning flash for verification.
	StagingBlockSize = 16 * 1024

	// MaxAttempts bounds the erase+write+verify cycles per run.
	MaxAttempts = 3
)

// ProgressCallback reports page-write progress within one attempt.
type ProgressCallback func(page, pages int)

// RetryCallback reports the start of a retry attempt (1-based; the
// first attempt is not reported).
type RetryCallback func(attempt int)

// Programmer drives one flash update run against a Controller.
// The staging buffer is reused across runs; a Programmer is not safe
// for concurrent use.
type Programmer struct {
	ctrl     flash.Controller
	staging  [flash.Size]byte
	progress ProgressCallback
	onRetry  RetryCallback
}

// New returns a Programmer for the given flash device.
func New(ctrl flash.Controller) *Programmer {
	return &Programmer{ctrl: ctrl}
}

// SetProgressCallback sets the per-page progress callback.
func (p *Programmer) SetProgressCallback(cb ProgressCallback) {
	p.progress = cb
}

// SetRetryCallback sets the retry notification callback.
func (p *Programmer) SetRetryCallback(cb RetryCallback) {
	p.onRetry = cb
}

func (p *Programmer) reportProgress(page, pages int) {
	if p.progress != nil {
		p.progress(page, pages)
	}
}

// Program runs the full update state machine: stage the image from r,
// verify the staged copy against wantCRC, then erase and rewrite the
// flash with up to MaxAttempts verify-bounded attempts.
//
// A *StagingError means no flash was touched. A *FatalError means all
// attempts failed and the flash is indeterminate; the caller must halt
// rather than resume normal execution. Interrupts are suspended for
// the whole programming phase and resumed before return on every path.
func (p *Programmer) Program(r io.Reader, size int64, wantCRC uint32) error {
	if size <= 0 || size > flash.Size {
		return fmt.Errorf("image size %d outside flash capacity %d", size, flash.Size)
	}

	if err := p.stage(r, size, wantCRC); err != nil {
		return err
	}

	// The flash bank being rewritten holds live code; nothing may
	// execute from it until a terminal outcome.
	p.ctrl.SuspendInterrupts()
	defer p.ctrl.ResumeInterrupts()

	var last *VerifyError
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 && p.onRetry != nil {
			p.onRetry(attempt)
		}

		p.eraseAll()
		p.writePages(size)

		// Re-lock before testing correctness, regardless of outcome.
		p.ctrl.UnlockProtection()
		p.ctrl.SetProtectionMask(flash.ProtectAll)

		actual := p.scanFlash(size)
		if actual == wantCRC {
			return nil
		}
		last = &VerifyError{Attempt: attempt, Expected: wantCRC, Actual: actual}
	}

	return &FatalError{Attempts: MaxAttempts, Last: last}
}

// stage streams the image into the staging buffer in block-sized reads
// while accumulating its CRC, and rejects the run before any flash is
// touched if the copy does not match.
func (p *Programmer) stage(r io.Reader, size int64, wantCRC uint32) error {
	engine := checksum.NewEngine()
	var off int64
	for {
		end := off + StagingBlockSize
		if end > size {
			end = size
		}
		if off == end {
			break
		}
		n, err := r.Read(p.staging[off:end])
		if n > 0 {
			engine.Update(p.staging[off : off+int64(n)])
			off += int64(n)
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
	}
	if off != size {
		return fmt.Errorf("short image read: %d of %d bytes", off, size)
	}
	if got := engine.Sum32(); got != wantCRC {
		return &StagingError{Expected: wantCRC, Actual: got}
	}
	return nil
}

// eraseAll unprotects the device, configures erase timing, and erases
// every page. Writing more than one page into an unerased block yields
// undefined contents, so the whole device is erased up front.
func (p *Programmer) eraseAll() {
	p.ctrl.UnlockProtection()
	p.ctrl.SetProtectionMask(flash.ProtectNone)
	// The unlock does not persist across protected writes.
	p.ctrl.UnlockProtection()
	p.ctrl.SetEraseTiming(flash.EraseDivisor)

	for page := 0; page < flash.PageCount; page++ {
		p.ctrl.ErasePage(page)
	}
}

// writePages copies the staged image into flash page by page in
// ascending address order.
func (p *Programmer) writePages(size int64) {
	pages, lastBytes := PageSpan(size)
	for page := 0; page < pages; page++ {
		n := int64(flash.PageSize)
		if page == pages-1 {
			n = lastBytes
		}
		off := int64(page) * flash.PageSize
		p.ctrl.WriteBlock(flash.Start+uint32(off), p.staging[off:off+n])
		p.reportProgress(page+1, pages)
	}
}

// scanFlash re-reads the programmed range in place and returns its CRC.
func (p *Programmer) scanFlash(size int64) uint32 {
	engine := checksum.NewEngine()
	buf := make([]byte, StagingBlockSize)
	for off := int64(0); off < size; {
		n := int64(len(buf))
		if off+n > size {
			n = size - off
		}
		p.ctrl.ReadBlock(flash.Start+uint32(off), buf[:n])
		engine.Update(buf[:n])
		off += n
	}
	return engine.Sum32()
}

// PageSpan returns the number of pages an image of the given length
// occupies and the payload length of the final page (PageSize when the
// length is an exact multiple).
func PageSpan(size int64) (pages int, lastBytes int64) {
	pages = int(size / flash.PageSize)
	lastBytes = size % flash.PageSize
	if lastBytes != 0 {
		pages++
	} else {
		lastBytes = flash.PageSize
	}
	return pages, lastBytes
}
