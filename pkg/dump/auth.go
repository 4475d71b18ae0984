package dump

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/soltia48/felica-dumper/pkg/felica"
	"github.com/soltia48/felica-dumper/pkg/keytab"
)

// MUTUAL AUTHENTICATION:
//
// FeliCa access keys are 16 bytes used as double-length triple-DES material
// (K1, K2, K1). The access key for a protected service is not the service
// key alone: it is derived by folding the node key chain, starting from the
// system key, through the keys of every containing area (outermost first)
// and finally the service key.
//
// The handshake is a 3-pass challenge-response:
//
//  1. Authentication1 names the node chain and obtains the card challenge.
//  2. The engine encrypts the card challenge under the access key and sends
//     it back together with its own fresh challenge (Authentication2).
//  3. The card answers with its encryption of the reader challenge, which
//     the engine verifies against the locally computed value.
//
// A mismatch means the local key material is wrong for this node; within
// one card presentation that is permanent, so failures are never retried.
// On success both sides hold the same two challenges, and the session key
// is derived from them under the access key.

// AuthLink is the slice of the Tag Link the Authenticator needs.
// *felica.Client satisfies it.
type AuthLink interface {
	AuthChallenge(areas, services []felica.NodeCode) ([8]byte, error)
	AuthVerify(response, challenge [8]byte) ([8]byte, error)
}

// KeyChain is the key material authenticating one service: the system key,
// the keys of the containing areas (outermost first, gaps allowed), and the
// service key.
type KeyChain struct {
	System  keytab.Entry
	Areas   []keytab.Entry
	Service keytab.Entry
}

// Entries lists the chain in fold order.
func (c KeyChain) Entries() []keytab.Entry {
	entries := make([]keytab.Entry, 0, 2+len(c.Areas))
	entries = append(entries, c.System)
	entries = append(entries, c.Areas...)
	return append(entries, c.Service)
}

// AccessKey folds the chain into the double-length access key: each node
// key is encrypted half by half under the key accumulated so far.
func (c KeyChain) AccessKey() ([16]byte, error) {
	var access [16]byte

	access = c.System.Key
	for _, e := range c.Entries()[1:] {
		block, err := tripleDES(access)
		if err != nil {
			return access, err
		}
		var next [16]byte
		block.Encrypt(next[:8], e.Key[:8])
		block.Encrypt(next[8:], e.Key[8:])
		access = next
	}

	return access, nil
}

// tripleDES builds the two-key EDE cipher (K1, K2, K1) from 16-byte
// material.
func tripleDES(key [16]byte) (cipher.Block, error) {
	material := make([]byte, 0, 24)
	material = append(material, key[:]...)
	material = append(material, key[:8]...)

	block, err := des.NewTripleDESCipher(material)
	if err != nil {
		return nil, fmt.Errorf("cipher setup: %w", err)
	}
	return block, nil
}

// Authenticator performs the mutual authentication handshake.
type Authenticator struct {
	Link AuthLink

	// Rand sources the reader challenge. Defaults to crypto/rand; tests
	// inject a fixed stream to make handshakes reproducible.
	Rand io.Reader
}

// NewAuthenticator creates an Authenticator using crypto/rand challenges.
func NewAuthenticator(link AuthLink) *Authenticator {
	return &Authenticator{Link: link}
}

func (a *Authenticator) random() io.Reader {
	if a.Rand != nil {
		return a.Rand
	}
	return rand.Reader
}

// Authenticate runs the handshake for one service and returns the bound
// Session. Failures are reported as *AuthError and are definitive for this
// card presentation.
func (a *Authenticator) Authenticate(service felica.NodeCode, areas []felica.NodeCode, chain KeyChain) (*Session, error) {
	access, err := chain.AccessKey()
	if err != nil {
		return nil, &AuthError{Service: service, Reason: ReasonKeyMismatch, Err: err}
	}
	block, err := tripleDES(access)
	if err != nil {
		return nil, &AuthError{Service: service, Reason: ReasonKeyMismatch, Err: err}
	}

	cardChallenge, err := a.Link.AuthChallenge(areas, []felica.NodeCode{service})
	if err != nil {
		return nil, a.linkFailure(service, err)
	}

	var readerChallenge [8]byte
	if _, err := io.ReadFull(a.random(), readerChallenge[:]); err != nil {
		return nil, fmt.Errorf("challenge generation: %w", err)
	}

	var response [8]byte
	block.Encrypt(response[:], cardChallenge[:])

	cardResponse, err := a.Link.AuthVerify(response, readerChallenge)
	if err != nil {
		return nil, a.linkFailure(service, err)
	}

	var expected [8]byte
	block.Encrypt(expected[:], readerChallenge[:])
	if !bytes.Equal(cardResponse[:], expected[:]) {
		return nil, &AuthError{Service: service, Reason: ReasonKeyMismatch}
	}

	// Both challenges are now mutually proven; bind the session key.
	session := &Session{service: service, active: true}
	block.Encrypt(session.key[:8], xor8(cardChallenge, readerChallenge))
	block.Encrypt(session.key[8:], readerChallenge[:])

	return session, nil
}

// linkFailure classifies a Tag Link error during the handshake.
func (a *Authenticator) linkFailure(service felica.NodeCode, err error) *AuthError {
	reason := ReasonCardRejected
	if errors.Is(err, felica.ErrTimeout) {
		reason = ReasonTimeout
	}
	return &AuthError{Service: service, Reason: reason, Err: err}
}

func xor8(a, b [8]byte) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
