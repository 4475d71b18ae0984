package felica

import "fmt"

// PC/SC TRANSPORT:
// Contactless PC/SC readers tunnel raw FeliCa frames inside a vendor
// pseudo-APDU (CLA 0xFF, INS 0x00): the frame is the APDU data field and
// the reader appends an ISO 7816 status word to the card's answer.
// PCSCTransport hides that envelope so a *scard.Card (or any value with a
// compatible Transmit method) can back a Client directly.

// RawCard is the subset of the PC/SC card API the transport needs.
// *scard.Card satisfies it.
type RawCard interface {
	Transmit(cmd []byte) ([]byte, error)
}

// PCSCTransport adapts a PC/SC connection to the Transmitter interface.
type PCSCTransport struct {
	Card RawCard
}

// NewPCSCTransport wraps an established PC/SC card connection.
func NewPCSCTransport(card RawCard) *PCSCTransport {
	return &PCSCTransport{Card: card}
}

// Transmit tunnels one FeliCa frame through the reader pseudo-APDU and
// strips the trailing status word. A card that did not answer yields an
// empty response, which the Client maps to ErrNoCard or ErrTimeout.
func (t *PCSCTransport) Transmit(frame []byte) ([]byte, error) {
	if len(frame) > 255 {
		return nil, fmt.Errorf("frame too long for pseudo-APDU: %d bytes", len(frame))
	}

	apdu := make([]byte, 0, 5+len(frame))
	apdu = append(apdu, 0xFF, 0x00, 0x00, 0x00, byte(len(frame)))
	apdu = append(apdu, frame...)

	resp, err := t.Card.Transmit(apdu)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("reader response too short: %d bytes", len(resp))
	}

	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	if sw != 0x9000 {
		return nil, fmt.Errorf("reader error status %04X", sw)
	}

	return resp[:len(resp)-2], nil
}
