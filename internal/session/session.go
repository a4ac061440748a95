// Package session implements per-connection NNTP session state:
// connection state machine, current-group cursor, authentication, and
// negotiated TLS/compression flags.
package session

import (
	"net"
	"time"

	"github.com/nntpd/nntpd/internal/store"
)

// State names a point in the per-connection state machine.
type State int

const (
	Greeting State = iota
	Unauthenticated
	Authenticated
	Posting
	Terminating
)

func (s State) String() string {
	switch s {
	case Greeting:
		return "greeting"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Posting:
		return "posting"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// CurrentGroup captures the cursor fields captured at GROUP-selection time
// plus the session's moving cursor article number.
type CurrentGroup struct {
	Name   string
	Low    int64
	High   int64
	Cursor int64
}

// Session holds all per-connection state. Exactly one task advances a
// Session at a time, so it requires no internal locking.
type Session struct {
	ID     string
	Remote net.Addr

	State State

	Group *CurrentGroup

	Identity *store.Identity

	// PendingUsername is set by AUTHINFO USER pending the PASS step.
	PendingUsername string

	TLSActive          bool
	CompressionActive  bool
	CompressTerminator bool

	// Capabilities negotiated/advertised for this session (e.g. whether
	// posting is allowed at all, independent of per-catalog moderation).
	PostingAllowed bool

	BytesIn, BytesOut     int64
	MessagesIn, MessagesOut int64

	StartedAt time.Time
}

// New builds a fresh Session in the Greeting state.
func New(id string, remote net.Addr, postingAllowed bool) *Session {
	return &Session{
		ID:             id,
		Remote:         remote,
		State:          Greeting,
		PostingAllowed: postingAllowed,
		StartedAt:      time.Now().UTC(),
	}
}

// ResetAuth discards authentication state, used after STARTTLS per
// RFC 4642: a renegotiated channel must not inherit a plaintext-negotiated
// identity.
func (s *Session) ResetAuth() {
	s.Identity = nil
	s.PendingUsername = ""
	if s.State == Authenticated {
		s.State = Unauthenticated
	}
}

// SelectGroup sets the session's current group and cursor to its low
// watermark.
func (s *Session) SelectGroup(catalog *store.Catalog) {
	s.Group = &CurrentGroup{
		Name:   catalog.Name,
		Low:    catalog.Low,
		High:   catalog.High,
		Cursor: catalog.Low,
	}
}

// IsAuthenticated reports whether the session carries a verified identity.
func (s *Session) IsAuthenticated() bool {
	return s.Identity != nil
}
