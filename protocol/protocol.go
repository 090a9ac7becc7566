// Package protocol implements the framed command protocol between the EMU
// firmware and host tools
package protocol

// Version represents the firmware protocol version
const Version = "emucore-0.1.0"

// Frame layout: len seq payload... crc_hi crc_lo 0x7E
const (
	MessageMax = 256 // Scratch buffer size for one outgoing frame

	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// Sequence byte: high nibble always MessageDest, low nibble counts
	MessageDest     = 0x10
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)

// NextSequence returns the sequence byte following seq
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
