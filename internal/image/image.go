// Package image validates Agon firmware files before any update is
// attempted and computes the whole-file CRC used for verification.
package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bigbag/agon-flasher/internal/checksum"
	"github.com/bigbag/agon-flasher/internal/flash"
)

// MOS images start with the ez80 startup sequence.
var mosMagic = []byte{0xF3, 0xED, 0x7D, 0x5B, 0xC3}

// VDP images are ESP32 application images; the chip magic sits at a
// fixed offset into the header.
var (
	esp32Magic       = []byte{0x32, 0x54, 0xCD, 0xAB}
	esp32MagicOffset = 0x20
)

// ReadBlockSize is the block size for the streaming CRC pass.
const ReadBlockSize = 16 * 1024

// CheckMOS validates a MOS image header and size. The header slice
// must hold at least the magic length.
func CheckMOS(header []byte, size int64) error {
	if size <= 0 {
		return fmt.Errorf("empty MOS image")
	}
	if size > flash.Size {
		return fmt.Errorf("MOS image is %d bytes, too large for %dKB embedded flash", size, flash.Size/1024)
	}
	if len(header) < len(mosMagic) || !bytes.Equal(header[:len(mosMagic)], mosMagic) {
		return fmt.Errorf("file does not contain valid MOS ez80 startup code")
	}
	return nil
}

// CheckVDP validates an ESP32 image header. The header slice must
// cover the magic offset.
func CheckVDP(header []byte) error {
	end := esp32MagicOffset + len(esp32Magic)
	if len(header) < end || !bytes.Equal(header[esp32MagicOffset:end], esp32Magic) {
		return fmt.Errorf("file does not contain valid ESP32 code")
	}
	return nil
}

// HeaderSize is how many leading bytes CheckMOS and CheckVDP need.
const HeaderSize = 0x24

// Checksum streams the whole file through a CRC-32 pass in block-sized
// reads and returns the finalized value.
func Checksum(r io.Reader) (uint32, error) {
	engine := checksum.NewEngine()
	buf := make([]byte, ReadBlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			engine.Update(buf[:n])
		}
		if err == io.EOF {
			return engine.Sum32(), nil
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return engine.Sum32(), nil
		}
	}
}
