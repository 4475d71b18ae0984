package dump

import "github.com/soltia48/felica-dumper/pkg/felica"

// Session is the authenticated context derived from a successful mutual
// authentication handshake. It is valid for reads against the one service
// it was created for and for the duration of one service-processing pass:
// FeliCa sessions do not persist across unrelated service accesses, so the
// Processor invalidates it on every exit path.
type Session struct {
	service felica.NodeCode
	key     [16]byte
	active  bool
}

// Service returns the service code the session is bound to.
func (s *Session) Service() felica.NodeCode {
	return s.service
}

// Key returns the derived session key material.
func (s *Session) Key() [16]byte {
	return s.key
}

// Active reports whether the session may still be used for reads.
func (s *Session) Active() bool {
	return s != nil && s.active
}

// Invalidate retires the session. Safe to call repeatedly and on nil.
func (s *Session) Invalidate() {
	if s != nil {
		s.active = false
	}
}
