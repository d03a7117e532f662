//go:build !linux

package serial

import (
	"errors"
	"time"
)

// RawPort is a stub for non-Linux platforms; go.bug.st/serial handles
// every port there and the fallback in Open never engages.
type RawPort struct{}

// OpenRaw is a stub for non-Linux platforms.
func OpenRaw(portName string, baudRate int) (*RawPort, error) {
	return nil, errors.New("raw serial port not supported on this platform")
}

// Close is a stub - never called on non-Linux platforms.
func (p *RawPort) Close() error {
	return errors.New("raw serial port not supported on this platform")
}

// Write is a stub - never called on non-Linux platforms.
func (p *RawPort) Write(data []byte) (int, error) {
	return 0, errors.New("raw serial port not supported on this platform")
}

// Read is a stub - never called on non-Linux platforms.
func (p *RawPort) Read(buf []byte) (int, error) {
	return 0, errors.New("raw serial port not supported on this platform")
}

// ReadWithTimeout is a stub - never called on non-Linux platforms.
func (p *RawPort) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	return 0, errors.New("raw serial port not supported on this platform")
}

// Flush is a stub - never called on non-Linux platforms.
func (p *RawPort) Flush() error {
	return errors.New("raw serial port not supported on this platform")
}
