// Package nntpd implements the protocol engine: the command dispatcher
// and handlers, the listener/acceptor, and the server aggregate that
// owns them.
package nntpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nntpd/nntpd/internal/session"
	"github.com/nntpd/nntpd/internal/store"
)

// Security names how a listening endpoint handles TLS.
type Security int

const (
	Cleartext Security = iota
	ImplicitTLS
	ExplicitTLSCapable
)

// Endpoint is one listen configuration.
type Endpoint struct {
	Address  string
	Security Security
}

// Config parameterizes a Server: listen endpoints, TLS material, timing
// defaults and server-wide policy, all on a plain struct passed to the
// constructor.
type Config struct {
	Endpoints []Endpoint

	// PathHost is used in the Path header of posted articles.
	PathHost string

	TLSConfig *tls.Config

	// HierarchyDelimiter separates catalog name components (default ".").
	HierarchyDelimiter string

	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxLineLength int

	// PostingAllowed is the server-wide default; individual catalogs may
	// further restrict via DenyLocalPosting/DenyPeerPosting.
	PostingAllowed bool

	// RequireAuth, when true, makes GROUP, LISTGROUP, POST and IHAVE reply
	// 480 until AUTHINFO succeeds. The other reader commands (LIST,
	// ARTICLE/HEAD/BODY/STAT, NEXT/LAST, OVER, HDR, NEWGROUPS, NEWNEWS) do
	// not check it.
	RequireAuth bool
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		HierarchyDelimiter: ".",
		IdleTimeout:        10 * time.Minute,
		WriteTimeout:       30 * time.Second,
		MaxLineLength:      4096,
		PostingAllowed:     true,
	}
}

// Server owns listeners, the active-connection registry, the shared
// store handle, and shutdown coordination.
type Server struct {
	cfg   Config
	store store.Store
	log   *zap.SugaredLogger

	listeners []net.Listener

	mu       sync.RWMutex
	sessions map[string]*connHandle

	shutdownOnce sync.Once
	done         chan struct{}
}

type connHandle struct {
	ss     *serverSession
	cancel context.CancelFunc
}

// NewServer builds a Server bound to the given store and configuration.
// Logging, the store, and configuration are all passed in at
// construction rather than reached via process-wide mutable state.
func NewServer(cfg Config, backing store.Store, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:      cfg,
		store:    backing,
		log:      log,
		sessions: make(map[string]*connHandle),
		done:     make(chan struct{}),
	}
}

// ListenAndServe binds every configured endpoint and serves connections
// until the context is cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	for _, ep := range s.cfg.Endpoints {
		ln, err := net.Listen("tcp", ep.Address)
		if err != nil {
			return fmt.Errorf("nntpd: listen %s: %w", ep.Address, err)
		}
		if ep.Security == ImplicitTLS {
			if s.cfg.TLSConfig == nil {
				return fmt.Errorf("nntpd: implicit TLS endpoint %s requires TLSConfig", ep.Address)
			}
			ln = tls.NewListener(ln, s.cfg.TLSConfig)
		}
		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()

		go s.acceptLoop(ctx, ln, ep)
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

// acceptLoop implements the Listener/Acceptor (C8): binds a configured
// endpoint, spawns a session task per accepted connection.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, ep Endpoint) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warnw("accept failed", "endpoint", ep.Address, "error", err)
			return
		}
		go s.handleConn(ctx, conn, ep)
	}
}

func (s *Server) handleConn(parent context.Context, conn net.Conn, ep Endpoint) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer conn.Close()

	id := uuid.NewString()
	sess := session.New(id, conn.RemoteAddr(), s.cfg.PostingAllowed)
	sess.TLSActive = ep.Security == ImplicitTLS
	ss := newServerSession(s, sess, conn)

	s.mu.Lock()
	s.sessions[id] = &connHandle{ss: ss, cancel: cancel}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	s.log.Infow("session started", "id", id, "remote", conn.RemoteAddr(), "security", ep.Security)

	ss.run(ctx)

	s.log.Infow("session ended", "id", id)
}

// Shutdown iterates active sessions, sends 205 best-effort, half-closes
// streams, and waits up to timeout before force-closing.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		listeners := append([]net.Listener(nil), s.listeners...)
		handles := make([]*connHandle, 0, len(s.sessions))
		for _, h := range s.sessions {
			handles = append(handles, h)
		}
		s.mu.RUnlock()

		for _, ln := range listeners {
			_ = ln.Close()
		}

		// Best-effort goodbye to each active session, then half-close so
		// any in-flight client write still drains. The framer is owned by
		// the session task, so this write can interleave with a response
		// in progress; a garbled goodbye on a connection being torn down
		// is acceptable.
		for _, h := range handles {
			conn := h.ss.framer.Conn()
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			_ = h.ss.framer.WriteLine("205 closing connection")
			if cw, ok := conn.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
			h.cancel()
		}

		done := make(chan struct{})
		go func() {
			for {
				s.mu.RLock()
				n := len(s.sessions)
				s.mu.RUnlock()
				if n == 0 {
					close(done)
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			// Cancelled contexts are only observed between commands; a
			// session blocked in a read holds its connection until the
			// idle timeout. Closing the stream interrupts it now.
			for _, h := range handles {
				_ = h.ss.framer.Conn().Close()
			}
		}
		close(s.done)
	})
	return err
}

// ActiveSessionCount reports the number of sessions in the registry.
func (s *Server) ActiveSessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveSessions returns a snapshot of active sessions for introspection;
// it satisfies internal/admin's ConnRegistry for the SHOWCONN verb.
func (s *Server) ActiveSessions() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, h := range s.sessions {
		out = append(out, h.ss.sess)
	}
	return out
}

// Store returns the server's backing store.
func (s *Server) Store() store.Store { return s.store }
