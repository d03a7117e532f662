// Package protocol builds the VDU control sequences spoken over the
// serial link to the VDP co-processor. The link is fire-and-forget:
// frames carry no per-byte acknowledgement, and the only transfer-level
// integrity check is the additive checksum trailer after the payload.
package protocol

import "fmt"

// StartUpdate returns the fixed 4-byte start-of-update frame that puts
// the armed VDP update listener into receive mode.
func StartUpdate() []byte {
	return []byte{CmdPrefix1, CmdPrefix2, CmdUpdateEscape, UpdateStart}
}

// ImageLength encodes an image length as the 3-byte little-endian field
// that follows the start-of-update frame. Lengths above MaxImageSize do
// not fit the field.
func ImageLength(size int64) ([]byte, error) {
	if size <= 0 || size > MaxImageSize {
		return nil, fmt.Errorf("image length %d outside 24-bit range", size)
	}
	return []byte{
		byte(size),
		byte(size >> 8),
		byte(size >> 16),
	}, nil
}

// Unlock returns the frame that arms the VDP update listener: the
// update escape with sub-command 0 followed by the literal unlock text.
func Unlock() []byte {
	frame := []byte{CmdPrefix1, CmdPrefix2, CmdUpdateEscape, UpdateUnlock}
	return append(frame, UnlockText...)
}

// ReadChar returns the frame requesting the character at screen
// position (x, y). The VDP answers through its packet channel; the
// reply transport is owned by the caller.
func ReadChar(x, y uint16) []byte {
	return []byte{
		CmdPrefix1, CmdPrefix2, CmdReadChar,
		byte(x), byte(x >> 8),
		byte(y), byte(y >> 8),
	}
}

// DisableFlowControl returns the frame switching the VDP's serial flow
// control off. Sent before polling a freshly rebooted VDP, which comes
// up with flow control in its default state.
func DisableFlowControl() []byte {
	return []byte{CmdPrefix1, CmdPrefix2, CmdFlowControl, 0x01, 0x01}
}

// GeneralPoll returns a general poll frame carrying an echo value.
func GeneralPoll(value byte) []byte {
	return []byte{CmdPrefix1, CmdPrefix2, CmdGeneralPoll, value}
}

// ScreenDims returns the frame requesting current screen dimensions.
// A rebooted VDP answers it as soon as its firmware is up, which makes
// it the restart-detection probe.
func ScreenDims() []byte {
	return []byte{CmdPrefix1, CmdPrefix2, CmdScreenDims}
}
