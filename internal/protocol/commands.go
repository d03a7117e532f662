package protocol

// VDU control-sequence opcodes understood by the VDP. Every system
// command starts with the two-byte prefix {23, 0} followed by the
// command byte.
const (
	CmdPrefix1 = 23
	CmdPrefix2 = 0

	CmdGeneralPoll  = 0x80 // request a general poll echo
	CmdReadChar     = 0x83 // report the character at a screen position
	CmdScreenDims   = 0x86 // report current screen dimensions
	CmdFlowControl  = 0xF9 // configure serial flow control
	CmdUpdateEscape = 0xA1 // OTA update sequence escape
)

// Sub-commands of the OTA update escape.
const (
	UpdateUnlock = 0 // arm the update listener ("unlock" text follows)
	UpdateStart  = 1 // begin firmware transfer (length + payload follow)
)

// UnlockText is sent after the unlock escape and echoed back on screen
// as "unlocked!" when the running VDP firmware carries the OTA listener.
const UnlockText = "unlock"

// UnlockResponse is the on-screen confirmation text the probe matches.
const UnlockResponse = "unlocked!"

// Transfer limits.
const (
	// ChunkSize is the transfer block size. Chunk boundaries are not
	// part of the wire format; the receiver only sees a byte stream.
	ChunkSize = 1024

	// MaxImageSize is the largest image the 24-bit length field can
	// describe.
	MaxImageSize = 1<<24 - 1
)

// Screen coordinates of the unlock confirmation text. The VDP prints
// "unlocked!" on row 3 starting at column 8.
const (
	UnlockRow = 3
	UnlockCol = 8
)
