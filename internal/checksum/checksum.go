// Package checksum implements the two integrity checks used during an
// Agon firmware update: the CRC-32 that guards the MOS image through
// staging and flash verification, and the 8-bit running sum that trails
// the VDP serial transfer.
package checksum

import "hash/crc32"

// Engine is a streaming CRC-32 accumulator (reflected, polynomial
// 0xEDB88320, initial and final XOR 0xFFFFFFFF). Feed it an image in
// blocks of any size; the result is independent of chunk boundaries.
type Engine struct {
	crc uint32
}

// NewEngine returns an Engine ready for a full-image pass.
func NewEngine() *Engine {
	e := &Engine{}
	e.Reset()
	return e
}

// Reset clears the accumulator for a new pass.
func (e *Engine) Reset() {
	e.crc = 0
}

// Update folds a byte block into the accumulator.
func (e *Engine) Update(p []byte) {
	e.crc = crc32.Update(e.crc, crc32.IEEETable, p)
}

// Sum32 returns the finalized 32-bit checksum for the current pass.
// Call Reset before reusing the engine for another pass.
func (e *Engine) Sum32() uint32 {
	return e.crc
}

// RunningSum is the additive 8-bit checksum of the VDP transfer
// protocol: every transmitted payload byte is summed with wraparound,
// and the transfer ends with the two's complement of the total so that
// the receiver's own sum over payload plus trailer comes out zero.
type RunningSum struct {
	sum byte
}

// Add folds a single byte into the sum.
func (s *RunningSum) Add(b byte) {
	s.sum += b
}

// AddBytes folds a transmitted block into the sum.
func (s *RunningSum) AddBytes(p []byte) {
	for _, b := range p {
		s.sum += b
	}
}

// Sum returns the current running total.
func (s *RunningSum) Sum() byte {
	return s.sum
}

// Trailer returns the checksum byte to transmit after the payload: the
// two's-complement negation of the running total.
func (s *RunningSum) Trailer() byte {
	return -s.sum
}
