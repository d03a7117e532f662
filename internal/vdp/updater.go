// Package vdp pushes a firmware image to the VDP co-processor over its
// serial link and waits for the rebooted firmware to answer a poll.
//
// The link is fire-and-forget: no byte is acknowledged, and a corrupted
// transfer is only observable as the co-processor never responding
// after the reboot. The wait is therefore bounded by a configurable
// timeout instead of the reference behavior of polling forever.
package vdp

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bigbag/agon-flasher/internal/checksum"
	"github.com/bigbag/agon-flasher/internal/protocol"
)

// ErrNoResponse is returned when the co-processor does not answer any
// restart probe within the configured timeout. It is indistinguishable
// from a failed transfer; the device may need reflashing over USB.
var ErrNoResponse = errors.New("vdp: no response after update")

// Defaults for the restart-detection loop.
const (
	DefaultPollInterval   = 150 * time.Millisecond
	DefaultRestartTimeout = 5 * time.Minute
)

// Port is the serial channel the updater talks through. Reads are
// expected to time out on their own (returning 0 bytes) rather than
// block forever, which both go.bug.st/serial ports and in-memory test
// fakes provide.
type Port interface {
	io.ReadWriter
}

// ProgressCallback reports transfer progress in bytes.
type ProgressCallback func(sent, total int64)

// Updater drives one firmware transfer plus restart detection.
type Updater struct {
	port           Port
	pollInterval   time.Duration
	restartTimeout time.Duration
	progress       ProgressCallback

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures an Updater.
type Option func(*Updater)

// WithPollInterval sets the pacing of restart probes.
func WithPollInterval(d time.Duration) Option {
	return func(u *Updater) { u.pollInterval = d }
}

// WithRestartTimeout bounds how long WaitRestart keeps probing.
func WithRestartTimeout(d time.Duration) Option {
	return func(u *Updater) { u.restartTimeout = d }
}

// WithProgressCallback sets the transfer progress callback.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(u *Updater) { u.progress = cb }
}

// New returns an Updater for the given port.
func New(port Port, opts ...Option) *Updater {
	u := &Updater{
		port:           port,
		pollInterval:   DefaultPollInterval,
		restartTimeout: DefaultRestartTimeout,
		now:            time.Now,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Send transmits the image: the fixed start-of-update frame, the
// 3-byte little-endian length, the raw image bytes in chunks, and the
// running-sum checksum trailer. Chunk boundaries are not part of the
// wire format.
func (u *Updater) Send(r io.Reader, size int64) error {
	lengthField, err := protocol.ImageLength(size)
	if err != nil {
		return err
	}

	if err := u.writeAll(protocol.StartUpdate()); err != nil {
		return fmt.Errorf("start frame: %w", err)
	}
	if err := u.writeAll(lengthField); err != nil {
		return fmt.Errorf("length field: %w", err)
	}

	var sum checksum.RunningSum
	var sent int64
	buf := make([]byte, protocol.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if err := u.writeAll(buf[:n]); err != nil {
				return fmt.Errorf("payload at byte %d: %w", sent, err)
			}
			sum.AddBytes(buf[:n])
			sent += int64(n)
			if u.progress != nil {
				u.progress(sent, size)
			}
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
	}
	if sent != size {
		return fmt.Errorf("image shorter than declared: %d of %d bytes", sent, size)
	}

	if err := u.writeAll([]byte{sum.Trailer()}); err != nil {
		return fmt.Errorf("checksum trailer: %w", err)
	}
	return nil
}

// WaitRestart probes the co-processor at the poll interval until it
// answers, signaling it rebooted into working firmware. Any byte
// arriving on the link counts as an answer. Returns ErrNoResponse when
// the timeout expires.
func (u *Updater) WaitRestart() error {
	deadline := u.now().Add(u.restartTimeout)
	buf := make([]byte, 64)

	// A freshly rebooted VDP comes up with flow control in its default
	// state; every probe switches it off before asking anything.
	probe := protocol.DisableFlowControl()
	probe = append(probe, protocol.GeneralPoll(1)...)
	probe = append(probe, protocol.ScreenDims()...)

	for {
		if err := u.writeAll(probe); err != nil {
			return fmt.Errorf("sending restart probe: %w", err)
		}

		u.sleep(u.pollInterval)

		n, err := u.port.Read(buf)
		if n > 0 {
			return nil
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading restart probe reply: %w", err)
		}
		if !u.now().Before(deadline) {
			return ErrNoResponse
		}
	}
}

// Update runs the full sequence: transfer the image, then wait for the
// co-processor to restart.
func (u *Updater) Update(r io.Reader, size int64) error {
	if err := u.Send(r, size); err != nil {
		return err
	}
	return u.WaitRestart()
}

func (u *Updater) writeAll(p []byte) error {
	n, err := u.port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return nil
}
