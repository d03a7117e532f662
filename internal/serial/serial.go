// Package serial wraps the host serial port the Agon is attached to.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate of the Agon's USB serial link.
const DefaultBaudRate = 115200

// conn is the device-level transport behind Port. go.bug.st/serial is
// the primary implementation; Linux has a raw-termios fallback for
// adapters its enumeration rejects.
type conn interface {
	Close() error
	Write(data []byte) (int, error)
	Read(buf []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
}

// Port is an open serial connection to the board.
type Port struct {
	conn     conn
	portName string
	baudRate int
}

// bugPort adapts a go.bug.st/serial port to conn.
type bugPort struct {
	port serial.Port
}

func (p *bugPort) Close() error {
	return p.port.Close()
}

func (p *bugPort) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

func (p *bugPort) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

func (p *bugPort) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(100 * time.Millisecond)

	return p.port.Read(buf)
}

func (p *bugPort) Flush() error {
	return p.port.ResetInputBuffer()
}

// Open opens a serial port with the specified baud rate. Ports that
// go.bug.st/serial cannot open fall back to the raw implementation
// where one exists (Linux).
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		raw, rawErr := OpenRaw(portName, baudRate)
		if rawErr != nil {
			return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
		}
		return &Port{conn: raw, portName: portName, baudRate: baudRate}, nil
	}

	// Set read timeout
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		conn:     &bugPort{port: port},
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.conn.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	return p.conn.ReadWithTimeout(buf, timeout)
}

// ReadAll reads all available data with a timeout.
func (p *Port) ReadAll(timeout time.Duration) ([]byte, error) {
	var result []byte
	buf := make([]byte, 1024)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		n, err := p.conn.ReadWithTimeout(buf, 100*time.Millisecond)
		if n > 0 {
			result = append(result, buf[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	return result, nil
}

// Flush discards any buffered data.
func (p *Port) Flush() error {
	return p.conn.Flush()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
