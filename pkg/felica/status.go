package felica

import "fmt"

// STATUS FLAG LOGIC:
//
// Block-oriented commands (Read Without Encryption, Read, Write) return two
// status bytes inside the response payload, before any block data:
//
// 1. Status Flag 1:
//    - 0x00: the whole block list was processed successfully.
//    - 0xFF: the command failed for a reason not tied to one list element
//      (illegal service list, access mode violation, ...).
//    - Other: the 1-origin index of the block list element that caused the
//      error. Data for the remaining elements is not returned.
//
// 2. Status Flag 2: the error code qualifying the failure. 0x00 on success.
//
// Both bytes are folded into a single uint16 here (Flag1 high, Flag2 low)
// so that a complete status can be compared and printed as one value,
// e.g. 0x01A8 "first block list element: block number out of range".

// StatusFlags represents the two status bytes returned by block-oriented
// FeliCa commands, packed as Flag1<<8 | Flag2.
type StatusFlags uint16

// NewStatusFlags creates a StatusFlags instance from the two status bytes.
func NewStatusFlags(flag1, flag2 byte) StatusFlags {
	return StatusFlags(uint16(flag1)<<8 | uint16(flag2))
}

// Flag1 returns the first status byte.
func (s StatusFlags) Flag1() byte {
	return byte(s >> 8)
}

// Flag2 returns the second status byte (error code).
func (s StatusFlags) Flag2() byte {
	return byte(s)
}

// IsSuccess returns true if the whole block list was processed.
func (s StatusFlags) IsSuccess() bool {
	return s.Flag1() == 0x00
}

// IsBlockError returns true if the failure is tied to one block list
// element, in which case ElementIndex identifies it.
func (s StatusFlags) IsBlockError() bool {
	f1 := s.Flag1()
	return f1 != 0x00 && f1 != 0xFF
}

// ElementIndex returns the 0-origin index of the offending block list
// element. Only meaningful when IsBlockError is true.
func (s StatusFlags) ElementIndex() int {
	return int(s.Flag1()) - 1
}

// Error codes carried in Status Flag 2.
const (
	ErrCodePurseUnderflow   byte = 0x01
	ErrCodeCashbackExceeded byte = 0x02
	ErrCodeServiceCount     byte = 0xA1
	ErrCodeBlockCount       byte = 0xA2
	ErrCodeServiceIndex     byte = 0xA3
	ErrCodeServiceType      byte = 0xA4
	ErrCodeAccessDenied     byte = 0xA5
	ErrCodeServiceCodeList  byte = 0xA6
	ErrCodeBlockAccessMode  byte = 0xA7
	ErrCodeBlockOutOfRange  byte = 0xA8
	ErrCodeWriteFailure     byte = 0xA9
	ErrCodeSystemCode       byte = 0xAB
	ErrCodeMACVerification  byte = 0xB1
	ErrCodeAuthRequired     byte = 0xB2
)

// Verbose returns a human-readable description of the status flags.
func (s StatusFlags) Verbose() string {
	if s.IsSuccess() {
		return fmt.Sprintf("[%04X] Success", uint16(s))
	}

	desc := errCodeDescription(s.Flag2())
	if s.IsBlockError() {
		return fmt.Sprintf("[%04X] Block list element %d: %s", uint16(s), s.ElementIndex()+1, desc)
	}
	return fmt.Sprintf("[%04X] Command failed: %s", uint16(s), desc)
}

// errCodeDescription maps a Status Flag 2 error code to text.
func errCodeDescription(code byte) string {
	switch code {
	case ErrCodePurseUnderflow:
		return "purse balance exceeded"
	case ErrCodeCashbackExceeded:
		return "cashback limit exceeded"
	case ErrCodeServiceCount:
		return "illegal number of services"
	case ErrCodeBlockCount:
		return "illegal number of blocks"
	case ErrCodeServiceIndex:
		return "illegal service index in block list"
	case ErrCodeServiceType:
		return "illegal service type"
	case ErrCodeAccessDenied:
		return "access not permitted"
	case ErrCodeServiceCodeList:
		return "illegal service code list"
	case ErrCodeBlockAccessMode:
		return "illegal block list access mode"
	case ErrCodeBlockOutOfRange:
		return "block number out of range"
	case ErrCodeWriteFailure:
		return "write failure"
	case ErrCodeSystemCode:
		return "illegal system code"
	case ErrCodeMACVerification:
		return "MAC verification failed"
	case ErrCodeAuthRequired:
		return "authentication required"
	default:
		return fmt.Sprintf("unknown error code 0x%02X", code)
	}
}
