package nntpd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/nntpd/nntpd/internal/session"
	"github.com/nntpd/nntpd/internal/wire"
)

// handlerFunc is one NNTP verb handler: it takes the session plus the
// already-tokenized argument list and writes its own success reply. A
// returned *ProtocolError becomes a numeric reply line and the session
// continues; io.EOF ends the session silently; any other error is
// answered with 403 and ends the session.
type handlerFunc func(ss *serverSession, args []string) error

// handlerTable maps a lowercased verb to its handler.
var handlerTable = map[string]handlerFunc{
	"capabilities": handleCapabilities,
	"mode":         handleMode,
	"quit":         handleQuit,
	"starttls":     handleStartTLS,
	"authinfo":     handleAuthInfo,
	"list":         handleList,
	"group":        handleGroup,
	"listgroup":    handleListGroup,
	"next":         handleNext,
	"last":         handleLast,
	"article":      handleArticle,
	"head":         handleHead,
	"body":         handleBody,
	"stat":         handleStat,
	"over":         handleOver,
	"xover":        handleOver,
	"hdr":          handleHdr,
	"xhdr":         handleHdr,
	"date":         handleDate,
	"post":         handlePost,
	"ihave":        handleIHave,
	"newgroups":    handleNewGroups,
	"newnews":      handleNewNews,
	"help":         handleHelp,
	"compress":     handleCompress,
}

// serverSession binds a session.Session to its wire.Framer and the owning
// Server, and is the receiver handlers operate on.
type serverSession struct {
	srv    *Server
	sess   *session.Session
	framer *wire.Framer
}

func newServerSession(srv *Server, sess *session.Session, conn net.Conn) *serverSession {
	return &serverSession{
		srv:    srv,
		sess:   sess,
		framer: wire.NewFramer(conn, srv.cfg.MaxLineLength),
	}
}

// run drives the session loop: greeting, then read-dispatch-reply until
// QUIT, a fatal framing error, or an idle timeout.
func (ss *serverSession) run(ctx context.Context) {
	defer ss.framer.Close()

	greeting := "201 NNTP Service Ready, posting prohibited"
	if ss.sess.PostingAllowed {
		greeting = "200 NNTP Service Ready, posting allowed"
	}
	if err := ss.framer.WriteLine(greeting); err != nil {
		return
	}
	ss.sess.State = session.Unauthenticated

	idle := ss.srv.cfg.IdleTimeout
	if idle <= 0 {
		idle = 10 * time.Minute
	}

	for ss.sess.State != session.Terminating {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if tc, ok := ss.framer.Conn().(interface {
			SetReadDeadline(time.Time) error
		}); ok {
			_ = tc.SetReadDeadline(time.Now().Add(idle))
		}

		line, err := ss.framer.ReadLine()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				_ = ss.framer.WriteLine("400 idle timeout")
			}
			return
		}

		verb, args := parseCommand(line)
		if verb == "" {
			continue
		}

		ss.sess.MessagesIn++

		handler, ok := handlerTable[verb]
		if !ok {
			_ = ss.reply(ErrUnknownCommand)
			continue
		}

		if writeDeadline, ok := ss.framer.Conn().(interface {
			SetWriteDeadline(time.Time) error
		}); ok {
			wt := ss.srv.cfg.WriteTimeout
			if wt <= 0 {
				wt = 30 * time.Second
			}
			_ = writeDeadline.SetWriteDeadline(time.Now().Add(wt))
		}

		if err := handler(ss, args); err != nil {
			if err == io.EOF {
				return
			}
			if pe, ok := err.(*ProtocolError); ok {
				_ = ss.reply(pe)
				continue
			}
			// Non-protocol errors are store/transport failures: emit 403 if
			// possible, then terminate the session.
			_ = ss.reply(ErrServiceUnavailable)
			return
		}
	}
}

func parseCommand(line string) (verb string, args []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// reply writes a single-line numeric reply.
func (ss *serverSession) reply(e *ProtocolError) error {
	return ss.framer.WriteLine(e.Error())
}

func (ss *serverSession) replyLine(format string, args ...interface{}) error {
	return ss.framer.WriteLine(fmt.Sprintf(format, args...))
}
