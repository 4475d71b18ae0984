package felica

import (
	"bytes"
	"errors"
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It binds to one card presentation via Polling and then addresses that card
// by prefixing every command with its IDm, verifying the IDm echo on every
// response.
//
// Block reads implement partial-failure recovery: when the card rejects one
// block list element (status flag 1 carries the element index), the client
// records that single block as missing or MAC-failed and transparently
// re-issues the exchange for the remaining elements. Callers therefore
// always receive one outcome per requested block.

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Sentinel conditions of the card link.
var (
	// ErrNoCard indicates that no card answered the polling command.
	ErrNoCard = errors.New("felica: no card present")

	// ErrTimeout indicates that the polled card stopped answering.
	ErrTimeout = errors.New("felica: card did not respond")

	// ErrNotPolled indicates a card command issued before Polling.
	ErrNotPolled = errors.New("felica: client is not bound to a polled card")
)

// CardError reports a command the card answered with error status flags.
type CardError struct {
	Cmd    CommandCode
	Status StatusFlags
}

func (e *CardError) Error() string {
	return fmt.Sprintf("felica: %s rejected: %s", e.Cmd, e.Status.Verbose())
}

// MaxBlocksPerRead is the protocol ceiling on block list elements in one
// read exchange. Larger requests must be split by the caller.
const MaxBlocksPerRead = 8

// MaxServicesPerRequest is the ceiling on node codes in one
// Request Service exchange.
const MaxServicesPerRequest = 32

// NoKeyVersion is the key version the card reports for nodes without a
// registered key.
const NoKeyVersion uint16 = 0xFFFF

// BlockStatus is the per-block outcome of a read exchange.
type BlockStatus byte

const (
	// BlockOK: the block was returned by the card.
	BlockOK BlockStatus = iota

	// BlockNotExist: the block number is out of the service's range.
	BlockNotExist

	// BlockMACFail: the block was rejected by MAC verification.
	BlockMACFail
)

func (s BlockStatus) String() string {
	switch s {
	case BlockOK:
		return "OK"
	case BlockNotExist:
		return "Not Exist"
	case BlockMACFail:
		return "MAC Failed"
	default:
		return fmt.Sprintf("Unknown (%d)", byte(s))
	}
}

// BlockResult is one per-block outcome. Data is only valid for BlockOK.
type BlockResult struct {
	Status BlockStatus
	Data   [16]byte
}

// Client manages the high-level communication with one polled card.
type Client struct {
	card Transmitter

	idm    IDm
	pmm    PMm
	sys    SystemCode
	polled bool
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{card: card}
}

// IDm returns the identifier of the polled card.
func (c *Client) IDm() IDm { return c.idm }

// PMm returns the manufacture parameter of the polled card.
func (c *Client) PMm() PMm { return c.pmm }

// exchange transmits one command frame and parses the response packet.
func (c *Client) exchange(code CommandCode, fields ...[]byte) (*Response, error) {
	cmd := NewCommand(code, fields...)

	raw, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}
	if len(rawResp) == 0 {
		if code == CmdPolling {
			return nil, ErrNoCard
		}
		return nil, ErrTimeout
	}

	resp, err := ParseResponse(rawResp)
	if err != nil {
		return nil, err
	}
	if resp.Code != code.ResponseCode() {
		return nil, fmt.Errorf("unexpected response code 0x%02X to %s", byte(resp.Code), code)
	}

	return resp, nil
}

// exchangeCard transmits a card-addressed command (IDm prefixed) and
// returns the response payload with the IDm echo stripped.
func (c *Client) exchangeCard(code CommandCode, fields ...[]byte) ([]byte, error) {
	if !c.polled {
		return nil, ErrNotPolled
	}

	full := append([][]byte{c.idm[:]}, fields...)
	resp, err := c.exchange(code, full...)
	if err != nil {
		return nil, err
	}

	if len(resp.Payload) < 8 {
		return nil, fmt.Errorf("response payload too short for IDm echo: %d bytes", len(resp.Payload))
	}
	if !bytes.Equal(resp.Payload[:8], c.idm[:]) {
		return nil, fmt.Errorf("IDm mismatch: got %X, want %s", resp.Payload[:8], c.idm)
	}

	return resp.Payload[8:], nil
}

// Polling binds the client to the card answering for the given system code.
// SystemCodeAny matches any system. Returns ErrNoCard when nothing answers.
func (c *Client) Polling(sys SystemCode) (IDm, PMm, error) {
	// system code (big endian), request code (none), time slot 0
	resp, err := c.exchange(CmdPolling, []byte{byte(sys >> 8), byte(sys), 0x00, 0x00})
	if err != nil {
		return IDm{}, PMm{}, err
	}

	if len(resp.Payload) < 16 {
		return IDm{}, PMm{}, fmt.Errorf("polling response too short: %d bytes", len(resp.Payload))
	}

	copy(c.idm[:], resp.Payload[:8])
	copy(c.pmm[:], resp.Payload[8:16])
	c.sys = sys
	c.polled = true

	return c.idm, c.pmm, nil
}

// RequestSystemCodes lists every system code registered on the card.
func (c *Client) RequestSystemCodes() ([]SystemCode, error) {
	payload, err := c.exchangeCard(CmdRequestSystemCode)
	if err != nil {
		return nil, err
	}

	if len(payload) < 1 {
		return nil, fmt.Errorf("system code response too short")
	}
	count := int(payload[0])
	if len(payload) < 1+2*count {
		return nil, fmt.Errorf("system code response truncated: %d codes announced, %d bytes", count, len(payload)-1)
	}

	codes := make([]SystemCode, count)
	for i := range codes {
		// system codes are transmitted big endian
		codes[i] = SystemCode(payload[1+2*i])<<8 | SystemCode(payload[2+2*i])
	}
	return codes, nil
}

// SearchServiceCode probes the node list at the given index. It returns
// ok=false on the end-of-list marker. A 2-byte answer is a service, a
// 4-byte answer an area with its end code.
func (c *Client) SearchServiceCode(index uint16) (Node, bool, error) {
	payload, err := c.exchangeCard(CmdSearchServiceCode, []byte{byte(index), byte(index >> 8)})
	if err != nil {
		return Node{}, false, err
	}

	switch len(payload) {
	case 2:
		code := NodeCode(payload[0]) | NodeCode(payload[1])<<8
		if code == 0xFFFF {
			return Node{}, false, nil
		}
		return NewService(code), true, nil
	case 4:
		code := NodeCode(payload[0]) | NodeCode(payload[1])<<8
		end := NodeCode(payload[2]) | NodeCode(payload[3])<<8
		return NewArea(code, end), true, nil
	default:
		return Node{}, false, fmt.Errorf("unexpected node descriptor length: %d bytes", len(payload))
	}
}

// RequestService queries the key versions registered for up to
// MaxServicesPerRequest node codes. NoKeyVersion marks absent keys.
func (c *Client) RequestService(nodes []NodeCode) ([]uint16, error) {
	if len(nodes) == 0 || len(nodes) > MaxServicesPerRequest {
		return nil, fmt.Errorf("node count %d out of range [1, %d]", len(nodes), MaxServicesPerRequest)
	}

	fields := make([]byte, 0, 1+2*len(nodes))
	fields = append(fields, byte(len(nodes)))
	for _, n := range nodes {
		fields = append(fields, byte(n), byte(n>>8))
	}

	payload, err := c.exchangeCard(CmdRequestService, fields)
	if err != nil {
		return nil, err
	}

	if len(payload) < 1 || int(payload[0]) != len(nodes) || len(payload) < 1+2*len(nodes) {
		return nil, fmt.Errorf("malformed key version response (%d bytes)", len(payload))
	}

	versions := make([]uint16, len(nodes))
	for i := range versions {
		versions[i] = uint16(payload[1+2*i]) | uint16(payload[2+2*i])<<8
	}
	return versions, nil
}

// ReadWithoutEncryption reads the given blocks of one open service.
// The block count must not exceed MaxBlocksPerRead.
func (c *Client) ReadWithoutEncryption(service NodeCode, blocks []uint16) ([]BlockResult, error) {
	if len(blocks) == 0 || len(blocks) > MaxBlocksPerRead {
		return nil, fmt.Errorf("block count %d out of range [1, %d]", len(blocks), MaxBlocksPerRead)
	}

	return c.readRecovering(CmdReadWithoutEncryption, blocks, func(part []uint16) ([]byte, error) {
		fields := []byte{0x01, byte(service), byte(service >> 8)}
		fields = append(fields, encodeBlockList(0, part)...)
		return c.exchangeCard(CmdReadWithoutEncryption, fields)
	})
}

// ReadSecure reads blocks of the service authenticated by the preceding
// Authentication1/Authentication2 exchange. Per-block MAC failures are
// reported as BlockMACFail.
func (c *Client) ReadSecure(blocks []uint16) ([]BlockResult, error) {
	if len(blocks) == 0 || len(blocks) > MaxBlocksPerRead {
		return nil, fmt.Errorf("block count %d out of range [1, %d]", len(blocks), MaxBlocksPerRead)
	}

	return c.readRecovering(CmdRead, blocks, func(part []uint16) ([]byte, error) {
		return c.exchangeCard(CmdRead, encodeBlockList(0, part))
	})
}

// AuthChallenge opens the mutual authentication for the given area and
// service chain (Authentication1) and returns the card's 8-byte challenge.
func (c *Client) AuthChallenge(areas, services []NodeCode) ([8]byte, error) {
	var challenge [8]byte

	fields := make([]byte, 0, 2+2*(len(areas)+len(services)))
	fields = append(fields, byte(len(areas)))
	for _, a := range areas {
		fields = append(fields, byte(a), byte(a>>8))
	}
	fields = append(fields, byte(len(services)))
	for _, s := range services {
		fields = append(fields, byte(s), byte(s>>8))
	}

	payload, err := c.exchangeCard(CmdAuthentication1, fields)
	if err != nil {
		return challenge, err
	}
	if len(payload) != 8 {
		return challenge, fmt.Errorf("malformed challenge response (%d bytes)", len(payload))
	}

	copy(challenge[:], payload)
	return challenge, nil
}

// AuthVerify completes the mutual authentication (Authentication2): it
// sends the computed response to the card challenge together with the
// reader challenge, and returns the card's response to the latter.
func (c *Client) AuthVerify(response, challenge [8]byte) ([8]byte, error) {
	var cardResponse [8]byte

	payload, err := c.exchangeCard(CmdAuthentication2, response[:], challenge[:])
	if err != nil {
		return cardResponse, err
	}
	if len(payload) < 2 {
		return cardResponse, fmt.Errorf("malformed authentication response (%d bytes)", len(payload))
	}

	flags := NewStatusFlags(payload[0], payload[1])
	if !flags.IsSuccess() {
		return cardResponse, &CardError{Cmd: CmdAuthentication2, Status: flags}
	}
	if len(payload) != 10 {
		return cardResponse, fmt.Errorf("malformed authentication response (%d bytes)", len(payload))
	}

	copy(cardResponse[:], payload[2:])
	return cardResponse, nil
}

// readRecovering issues a block read and recovers from single-element
// failures by splitting the list around the offending block.
func (c *Client) readRecovering(cmd CommandCode, blocks []uint16, issue func([]uint16) ([]byte, error)) ([]BlockResult, error) {
	payload, err := issue(blocks)
	if err != nil {
		return nil, err
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("malformed read response (%d bytes)", len(payload))
	}

	flags := NewStatusFlags(payload[0], payload[1])
	results := make([]BlockResult, len(blocks))

	if flags.IsSuccess() {
		data := payload[2:]
		if len(data) < 1 || int(data[0]) != len(blocks) || len(data) != 1+16*len(blocks) {
			return nil, fmt.Errorf("malformed block data (%d bytes for %d blocks)", len(data), len(blocks))
		}
		for i := range results {
			results[i].Status = BlockOK
			copy(results[i].Data[:], data[1+16*i:17+16*i])
		}
		return results, nil
	}

	if !flags.IsBlockError() {
		return nil, &CardError{Cmd: cmd, Status: flags}
	}

	i := flags.ElementIndex()
	if i < 0 || i >= len(blocks) {
		return nil, &CardError{Cmd: cmd, Status: flags}
	}

	switch flags.Flag2() {
	case ErrCodeBlockOutOfRange:
		results[i].Status = BlockNotExist
	case ErrCodeMACVerification:
		results[i].Status = BlockMACFail
	default:
		return nil, &CardError{Cmd: cmd, Status: flags}
	}

	// The card stops at the first bad element; recover the rest.
	if i > 0 {
		left, err := c.readRecovering(cmd, blocks[:i], issue)
		if err != nil {
			return nil, err
		}
		copy(results[:i], left)
	}
	if i+1 < len(blocks) {
		right, err := c.readRecovering(cmd, blocks[i+1:], issue)
		if err != nil {
			return nil, err
		}
		copy(results[i+1:], right)
	}

	return results, nil
}

// encodeBlockList encodes a block list for one service index. Block numbers
// up to 0xFF use the compact 2-byte element form.
func encodeBlockList(serviceIndex byte, blocks []uint16) []byte {
	list := make([]byte, 0, 1+3*len(blocks))
	list = append(list, byte(len(blocks)))
	for _, b := range blocks {
		if b <= 0xFF {
			list = append(list, 0x80|serviceIndex, byte(b))
		} else {
			list = append(list, serviceIndex, byte(b), byte(b>>8))
		}
	}
	return list
}
