package felica

import (
	"bytes"
	"fmt"
)

// FRAME STRUCTURE (JIS X 6319-4):
//
// COMMAND PACKET:
// A command consists of a mandatory Length byte followed by the packet data.
//
// 1. Length: total packet length including the length byte itself.
// 2. Command Code: one byte identifying the operation.
// 3. Payload: command-specific fields. Every command except Polling starts
//    with the 8-byte IDm of the addressed card.
//
// RESPONSE PACKET:
// 1. Length: total packet length including the length byte itself.
// 2. Response Code: command code + 1.
// 3. Payload: response-specific fields, usually starting with the IDm echo.
//
// Unlike ISO 7816 APDUs there is no trailing status word; commands that can
// fail per block carry two status flag bytes inside the payload instead
// (see StatusFlags).

// CommandCode is a typed representation of the FeliCa command byte.
type CommandCode byte

// Command codes used by FeliCa Standard cards.
const (
	CmdPolling                CommandCode = 0x00
	CmdRequestService         CommandCode = 0x02
	CmdRequestResponse        CommandCode = 0x04
	CmdReadWithoutEncryption  CommandCode = 0x06
	CmdWriteWithoutEncryption CommandCode = 0x08
	CmdSearchServiceCode      CommandCode = 0x0A
	CmdRequestSystemCode      CommandCode = 0x0C
	CmdAuthentication1        CommandCode = 0x10
	CmdAuthentication2        CommandCode = 0x12
	CmdRead                   CommandCode = 0x14
	CmdWrite                  CommandCode = 0x16
)

// ResponseCode returns the code the card answers this command with.
func (c CommandCode) ResponseCode() CommandCode {
	return c + 1
}

func (c CommandCode) String() string {
	switch c {
	case CmdPolling:
		return "Polling"
	case CmdRequestService:
		return "Request Service"
	case CmdRequestResponse:
		return "Request Response"
	case CmdReadWithoutEncryption:
		return "Read Without Encryption"
	case CmdWriteWithoutEncryption:
		return "Write Without Encryption"
	case CmdSearchServiceCode:
		return "Search Service Code"
	case CmdRequestSystemCode:
		return "Request System Code"
	case CmdAuthentication1:
		return "Authentication1"
	case CmdAuthentication2:
		return "Authentication2"
	case CmdRead:
		return "Read"
	case CmdWrite:
		return "Write"
	default:
		return fmt.Sprintf("Unknown Command (0x%02X)", byte(c))
	}
}

// MaxFrameLen is the largest frame a FeliCa card accepts: the length
// field is one byte and counts itself.
const MaxFrameLen = 255

// Command represents a command packet sent to the card.
type Command struct {
	Code    CommandCode
	Payload []byte
}

// NewCommand creates a command packet from a code and payload fields.
func NewCommand(code CommandCode, fields ...[]byte) *Command {
	var payload []byte
	for _, f := range fields {
		payload = append(payload, f...)
	}
	return &Command{Code: code, Payload: payload}
}

// Bytes encodes the Command into its length-prefixed wire representation.
func (c *Command) Bytes() ([]byte, error) {
	// length byte + command code + payload
	total := 2 + len(c.Payload)
	if total > MaxFrameLen {
		return nil, fmt.Errorf("frame too long: %d bytes (max %d)", total, MaxFrameLen)
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(byte(total))
	buf.WriteByte(byte(c.Code))
	buf.Write(c.Payload)

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *Command) String() string {
	return fmt.Sprintf("%s | Payload: %d bytes", c.Code.String(), len(c.Payload))
}

// Response represents the reply packet from the card.
type Response struct {
	Code    CommandCode
	Payload []byte
}

// ParseResponse parses raw bytes received from the card into a Response.
// The input must contain at least the length byte and the response code,
// and the length byte must match the actual packet size.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	declared := int(raw[0])
	if declared != len(raw) {
		return nil, fmt.Errorf("length mismatch: declared %d, received %d", declared, len(raw))
	}

	return &Response{
		Code:    CommandCode(raw[1]),
		Payload: raw[2:],
	}, nil
}

// String returns a readable representation of the response.
func (r *Response) String() string {
	return fmt.Sprintf("Code: 0x%02X | Payload: %d bytes", byte(r.Code), len(r.Payload))
}
