// Package detect probes whether the VDP firmware currently running on
// the board carries the OTA update listener. The probe arms the
// listener with the unlock sequence, then reads back the screen
// positions where an unlocked VDP prints its confirmation text.
package detect

import (
	"fmt"
	"time"

	"github.com/bigbag/agon-flasher/internal/protocol"
)

// Port is the serial access the probe needs; *serial.Port satisfies it.
type Port interface {
	Write(data []byte) (int, error)
	ReadAll(timeout time.Duration) ([]byte, error)
	Flush() error
}

// queryDelay paces the screen-character queries so the VDP has redrawn
// before each read.
const queryDelay = 20 * time.Millisecond

// replyTimeout bounds how long each query waits for its reply packet.
const replyTimeout = 200 * time.Millisecond

// UpdaterPresent sends the unlock sequence and reports whether the VDP
// confirmed it. A false result means the running VDP firmware has no
// OTA listener and must be programmed over USB instead.
func UpdaterPresent(port Port) (bool, error) {
	if err := port.Flush(); err != nil {
		return false, fmt.Errorf("flushing port: %w", err)
	}
	if _, err := port.Write(protocol.Unlock()); err != nil {
		return false, fmt.Errorf("sending unlock: %w", err)
	}

	// Query the characters of the confirmation text one screen cell at
	// a time. The replies arrive as VDP packets with framing bytes
	// around the character value, so the confirmation is matched as an
	// in-order subsequence of everything received.
	var replies []byte
	for i := range protocol.UnlockResponse {
		time.Sleep(queryDelay)
		query := protocol.ReadChar(uint16(protocol.UnlockCol+i), protocol.UnlockRow)
		if _, err := port.Write(query); err != nil {
			return false, fmt.Errorf("querying screen character %d: %w", i, err)
		}
		reply, err := port.ReadAll(replyTimeout)
		if err != nil {
			return false, fmt.Errorf("reading screen character %d: %w", i, err)
		}
		replies = append(replies, reply...)
	}

	return containsSubsequence(replies, []byte(protocol.UnlockResponse)), nil
}

// containsSubsequence reports whether needle occurs in haystack in
// order, allowing arbitrary bytes in between.
func containsSubsequence(haystack, needle []byte) bool {
	i := 0
	for _, b := range haystack {
		if i < len(needle) && b == needle[i] {
			i++
		}
	}
	return i == len(needle)
}
