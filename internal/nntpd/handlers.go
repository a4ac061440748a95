package nntpd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nntpd/nntpd/internal/article"
	"github.com/nntpd/nntpd/internal/session"
	"github.com/nntpd/nntpd/internal/store"
	"github.com/nntpd/nntpd/internal/wildmat"
)

// requireGroup enforces the "group selected" precondition shared by
// several handlers.
func requireGroup(ss *serverSession) (*session.CurrentGroup, error) {
	if ss.sess.Group == nil {
		return nil, ErrNoGroupSelected
	}
	return ss.sess.Group, nil
}

// requireAuth enforces the auth precondition for privileged commands.
func requireAuth(ss *serverSession) error {
	if ss.srv.cfg.RequireAuth && !ss.sess.IsAuthenticated() {
		return ErrAuthRequired
	}
	return nil
}

func handleCapabilities(ss *serverSession, args []string) error {
	lines := []string{
		"VERSION 2",
		"READER",
	}
	if ss.sess.PostingAllowed {
		lines = append(lines, "POST")
	}
	lines = append(lines, "AUTHINFO USER")
	if !ss.sess.TLSActive {
		lines = append(lines, "STARTTLS")
	}
	lines = append(lines,
		"COMPRESS DEFLATE",
		"IHAVE",
		"LIST ACTIVE NEWSGROUPS COUNTS SUBSCRIPTIONS",
		"OVER",
		"HDR",
		"XREF",
	)

	if err := ss.replyLine("101 Capability list:"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		l := lines[i]
		i++
		return l, true
	})
}

func handleMode(ss *serverSession, args []string) error {
	if len(args) < 1 || !strings.EqualFold(args[0], "reader") {
		return ErrSyntax
	}
	if ss.sess.PostingAllowed {
		return ss.replyLine("200 Posting allowed")
	}
	return ss.replyLine("201 Posting prohibited")
}

func handleQuit(ss *serverSession, args []string) error {
	_ = ss.replyLine("205 closing connection")
	ss.sess.State = session.Terminating
	return io.EOF
}

func handleStartTLS(ss *serverSession, args []string) error {
	if ss.sess.TLSActive || ss.sess.CompressionActive {
		return ErrTLSNotAllowed
	}
	if ss.srv.cfg.TLSConfig == nil {
		return ErrTLSNotAllowed
	}
	if err := ss.replyLine("382 continue with TLS negotiation"); err != nil {
		return err
	}

	tlsConn := tlsServer(ss.framer.Conn(), ss.srv.cfg.TLSConfig)
	if err := tlsHandshake(tlsConn); err != nil {
		ss.sess.State = session.Terminating
		return io.EOF
	}
	ss.framer.Rewrap(tlsConn)
	ss.sess.TLSActive = true

	// RFC 4642: discard authentication state unconditionally after
	// STARTTLS.
	ss.sess.ResetAuth()
	return nil
}

func handleAuthInfo(ss *serverSession, args []string) error {
	if len(args) < 2 {
		return ErrSyntax
	}
	sub := strings.ToLower(args[0])
	value := strings.Join(args[1:], " ")

	switch sub {
	case "user":
		ss.sess.PendingUsername = value
		return ss.replyLine("381 Password required")
	case "pass":
		if ss.sess.PendingUsername == "" {
			return ErrAuthSequence
		}
		identity, err := ss.srv.store.AuthenticatePassword(context.Background(), ss.sess.PendingUsername, value)
		if err != nil {
			return err
		}
		ss.sess.PendingUsername = ""
		if identity == nil {
			return ErrAuthRejected
		}
		if identity.LocalAuthenticationOnly && !ss.sess.TLSActive && !isLoopback(ss.sess.Remote) {
			return ErrEncryptionRequired
		}
		ss.sess.Identity = identity
		ss.sess.State = session.Authenticated
		_ = ss.srv.store.Ensure(context.Background(), identity)
		return ss.replyLine("281 Authenticated")
	default:
		return ErrSyntax
	}
}

func handleCompress(ss *serverSession, args []string) error {
	if len(args) < 1 || !strings.EqualFold(args[0], "deflate") {
		return ErrSyntax
	}
	terminatorCompressed := false
	for _, a := range args[1:] {
		if strings.EqualFold(a, "terminator") {
			terminatorCompressed = true
		}
	}
	if err := ss.replyLine("206 Compression active"); err != nil {
		return err
	}
	if err := ss.framer.EnableCompression(terminatorCompressed); err != nil {
		return ErrServiceUnavailable
	}
	ss.sess.CompressionActive = true
	ss.sess.CompressTerminator = terminatorCompressed
	return nil
}

func handleList(ss *serverSession, args []string) error {
	kind := "active"
	wildmatExpr := ""
	if len(args) > 0 {
		kind = strings.ToLower(args[0])
		if len(args) > 1 {
			wildmatExpr = args[1]
		}
	}

	ctx := context.Background()
	if kind == "subscriptions" {
		return listSubscriptions(ctx, ss)
	}
	switch kind {
	case "active", "newsgroups", "counts":
	default:
		return ErrSyntax
	}

	catalogs, err := ss.srv.store.ListAllCatalogs(ctx, ss.sess.Identity)
	if err != nil {
		return err
	}
	m := wildmat.Compile(wildmatExpr)

	filtered := make([]*store.Catalog, 0, len(catalogs))
	for _, c := range catalogs {
		if m.Match(c.Name) {
			filtered = append(filtered, c)
		}
	}

	if err := ss.replyLine("215 list of newsgroups follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(filtered) {
			return "", false
		}
		c := filtered[i]
		i++
		switch kind {
		case "newsgroups":
			return fmt.Sprintf("%s\t%s", c.Name, c.Description), true
		case "counts":
			return fmt.Sprintf("%s %d %d %d %s", c.Name, c.High, c.Low, c.PostCount, catalogStatus(c)), true
		default: // "active"
			return fmt.Sprintf("%s %d %d %s", c.Name, c.High, c.Low, catalogStatus(c)), true
		}
	})
}

// catalogStatus renders the LIST ACTIVE posting-status field: "n" when
// neither local posters nor peers may post, "m" for moderated groups,
// "y" otherwise.
func catalogStatus(c *store.Catalog) string {
	if c.DenyLocalPosting && c.DenyPeerPosting {
		return "n"
	}
	if c.Moderated {
		return "m"
	}
	return "y"
}

func listSubscriptions(ctx context.Context, ss *serverSession) error {
	if ss.sess.Identity == nil {
		return ErrAuthRequired
	}
	subs, err := ss.srv.store.GetSubscriptions(ctx, ss.sess.Identity)
	if err != nil {
		return err
	}
	if err := ss.replyLine("215 list of subscriptions follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(subs) {
			return "", false
		}
		name := subs[i].Catalog
		i++
		return name, true
	})
}

func handleGroup(ss *serverSession, args []string) error {
	if err := requireAuth(ss); err != nil {
		return err
	}
	if len(args) < 1 {
		return ErrSyntax
	}
	catalog, err := ss.srv.store.GetCatalog(context.Background(), ss.sess.Identity, args[0])
	if err != nil {
		return err
	}
	if catalog == nil {
		return ErrNoSuchGroup
	}
	ss.sess.SelectGroup(catalog)
	return ss.replyLine("211 %d %d %d %s", catalog.PostCount, catalog.Low, catalog.High, catalog.Name)
}

func handleListGroup(ss *serverSession, args []string) error {
	if err := requireAuth(ss); err != nil {
		return err
	}

	var name string
	rangeSpec := ""
	if len(args) >= 1 {
		name = args[0]
		if len(args) >= 2 {
			rangeSpec = args[1]
		}
	} else {
		g, err := requireGroup(ss)
		if err != nil {
			return err
		}
		name = g.Name
	}

	catalog, err := ss.srv.store.GetCatalog(context.Background(), ss.sess.Identity, name)
	if err != nil {
		return err
	}
	if catalog == nil {
		return ErrNoSuchGroup
	}
	ss.sess.SelectGroup(catalog)

	from, to := parseRange(rangeSpec, catalog.Low, catalog.High)
	placements, err := ss.srv.store.GetMessages(context.Background(), ss.sess.Identity, name, from, to)
	if err != nil {
		return err
	}

	if err := ss.replyLine("211 %d %d %d %s list follows", catalog.PostCount, catalog.Low, catalog.High, catalog.Name); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(placements) {
			return "", false
		}
		p := placements[i]
		i++
		return strconv.FormatInt(p.Number, 10), true
	})
}

// parseRange parses the `n`, `n-`, `n-m` range forms shared by LISTGROUP/
// OVER/HDR, defaulting to the catalog's full watermark span.
func parseRange(spec string, low, high int64) (from, to int64) {
	if spec == "" {
		return low, high
	}
	parts := strings.SplitN(spec, "-", 2)
	from, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return low, high
	}
	if len(parts) == 1 {
		return from, from
	}
	if parts[1] == "" {
		return from, high
	}
	to, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		to = high
	}
	return from, to
}

// resolveCursorArticle implements the "current article" resolution shared
// by ARTICLE/HEAD/BODY/STAT: explicit number, explicit message-id, or the
// session's cursor.
func resolveCursorArticle(ss *serverSession, args []string) (*store.Placement, *store.Message, error) {
	ctx := context.Background()
	if len(args) == 0 {
		g, err := requireGroup(ss)
		if err != nil {
			return nil, nil, err
		}
		if g.Cursor == 0 {
			return nil, nil, ErrNoCurrentArticle
		}
		placements, err := ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, g.Cursor, g.Cursor)
		if err != nil {
			return nil, nil, err
		}
		if len(placements) == 0 {
			return nil, nil, ErrNoCurrentArticle
		}
		msg, err := ss.srv.store.GetMessage(ctx, placements[0].MessageID)
		if err != nil {
			return nil, nil, err
		}
		return placements[0], msg, nil
	}

	spec := args[0]
	if strings.HasPrefix(spec, "<") {
		placement, msg, err := ss.srv.store.GetMessageByID(ctx, ss.sess.Identity, spec)
		if err != nil {
			return nil, nil, err
		}
		if msg == nil {
			return nil, nil, ErrInvalidMessageID
		}
		return placement, msg, nil
	}

	g, err := requireGroup(ss)
	if err != nil {
		return nil, nil, err
	}
	num, err := strconv.ParseInt(spec, 10, 64)
	if err != nil {
		return nil, nil, ErrSyntax
	}
	placements, err := ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, num, num)
	if err != nil {
		return nil, nil, err
	}
	if len(placements) == 0 {
		return nil, nil, ErrInvalidArticleNumber
	}
	g.Cursor = num
	msg, err := ss.srv.store.GetMessage(ctx, placements[0].MessageID)
	if err != nil {
		return nil, nil, err
	}
	return placements[0], msg, nil
}

func writeHeaders(ss *serverSession, msg *store.Message) func() (string, bool) {
	i := -1
	return func() (string, bool) {
		i++
		if i >= len(msg.HeaderOrder) {
			return "", false
		}
		key := msg.HeaderOrder[i]
		return fmt.Sprintf("%s: %s", key, msg.Headers[key]), true
	}
}

func handleArticle(ss *serverSession, args []string) error {
	placement, msg, err := resolveCursorArticle(ss, args)
	if err != nil {
		return err
	}
	if err := ss.replyLine("220 %d %s", numberOrZero(placement), msg.MessageID); err != nil {
		return err
	}

	headerLines := msg.HeaderOrder
	idx := -1
	bodyLines := splitBodyLines(msg.Body)
	bodyIdx := -1
	sentBlank := false
	return ss.framer.WriteDotBlock(func() (string, bool) {
		idx++
		if idx < len(headerLines) {
			key := headerLines[idx]
			return fmt.Sprintf("%s: %s", key, msg.Headers[key]), true
		}
		if !sentBlank {
			sentBlank = true
			return "", true
		}
		bodyIdx++
		if bodyIdx >= len(bodyLines) {
			return "", false
		}
		return bodyLines[bodyIdx], true
	})
}

func handleHead(ss *serverSession, args []string) error {
	placement, msg, err := resolveCursorArticle(ss, args)
	if err != nil {
		return err
	}
	if err := ss.replyLine("221 %d %s", numberOrZero(placement), msg.MessageID); err != nil {
		return err
	}
	return ss.framer.WriteDotBlock(writeHeaders(ss, msg))
}

func handleBody(ss *serverSession, args []string) error {
	placement, msg, err := resolveCursorArticle(ss, args)
	if err != nil {
		return err
	}
	if err := ss.replyLine("222 %d %s", numberOrZero(placement), msg.MessageID); err != nil {
		return err
	}
	lines := splitBodyLines(msg.Body)
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		l := lines[i]
		i++
		return l, true
	})
}

func handleStat(ss *serverSession, args []string) error {
	placement, msg, err := resolveCursorArticle(ss, args)
	if err != nil {
		return err
	}
	return ss.replyLine("223 %d %s", numberOrZero(placement), msg.MessageID)
}

func numberOrZero(p *store.Placement) int64 {
	if p == nil {
		return 0
	}
	return p.Number
}

func splitBodyLines(body []byte) []string {
	s := strings.TrimSuffix(string(body), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func handleNext(ss *serverSession, args []string) error {
	return moveCursor(ss, +1, ErrNoNextArticle)
}

func handleLast(ss *serverSession, args []string) error {
	return moveCursor(ss, -1, ErrNoPrevArticle)
}

// moveCursor implements NEXT/LAST: it advances/retreats the cursor to the
// next present (non-cancelled, non-pending) number; holes are skipped
// rather than reported.
func moveCursor(ss *serverSession, dir int64, boundsErr *ProtocolError) error {
	g, err := requireGroup(ss)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var placements []*store.Placement
	if dir > 0 {
		placements, err = ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, g.Cursor+1, g.High)
	} else {
		// An upper bound of 0 means "no upper bound" to the store, so a
		// cursor already at the first number has nothing before it.
		if g.Cursor-1 < 1 {
			return boundsErr
		}
		placements, err = ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, g.Low, g.Cursor-1)
	}
	if err != nil {
		return err
	}
	if len(placements) == 0 {
		return boundsErr
	}

	var target *store.Placement
	if dir > 0 {
		target = placements[0]
		for _, p := range placements {
			if p.Number < target.Number {
				target = p
			}
		}
	} else {
		target = placements[0]
		for _, p := range placements {
			if p.Number > target.Number {
				target = p
			}
		}
	}

	g.Cursor = target.Number
	msg, err := ss.srv.store.GetMessage(ctx, target.MessageID)
	if err != nil {
		return err
	}
	return ss.replyLine("223 %d %s", target.Number, msg.MessageID)
}

func handleOver(ss *serverSession, args []string) error {
	g, err := requireGroup(ss)
	if err != nil {
		return err
	}
	spec := ""
	if len(args) > 0 {
		spec = args[0]
	}
	from, to := parseRange(spec, g.Low, g.High)

	ctx := context.Background()
	placements, err := ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, from, to)
	if err != nil {
		return err
	}

	if err := ss.replyLine("224 Overview information follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		for i < len(placements) {
			p := placements[i]
			i++
			msg, err := ss.srv.store.GetMessage(ctx, p.MessageID)
			if err != nil || msg == nil {
				continue
			}
			return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d",
				p.Number, msg.Subject, msg.From, msg.Date.Format(time.RFC1123Z), msg.MessageID,
				msg.Headers["References"], len(msg.Body), strings.Count(string(msg.Body), "\n")), true
		}
		return "", false
	})
}

func handleHdr(ss *serverSession, args []string) error {
	if len(args) < 1 {
		return ErrSyntax
	}
	header := article.CanonicalHeaderKey(args[0])
	ctx := context.Background()

	// Message-id form: the article number field is 0 per RFC 3977 §8.5.
	if len(args) > 1 && strings.HasPrefix(args[1], "<") {
		_, msg, err := ss.srv.store.GetMessageByID(ctx, ss.sess.Identity, args[1])
		if err != nil {
			return err
		}
		if msg == nil {
			return ErrInvalidMessageID
		}
		if err := ss.replyLine("225 Headers follow"); err != nil {
			return err
		}
		sent := false
		return ss.framer.WriteDotBlock(func() (string, bool) {
			if sent {
				return "", false
			}
			sent = true
			return fmt.Sprintf("0 %s", msg.Headers[header]), true
		})
	}

	g, err := requireGroup(ss)
	if err != nil {
		return err
	}
	spec := ""
	if len(args) > 1 {
		spec = args[1]
	}
	from, to := parseRange(spec, g.Low, g.High)

	placements, err := ss.srv.store.GetMessages(ctx, ss.sess.Identity, g.Name, from, to)
	if err != nil {
		return err
	}

	if err := ss.replyLine("225 Headers follow"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		for i < len(placements) {
			p := placements[i]
			i++
			msg, err := ss.srv.store.GetMessage(ctx, p.MessageID)
			if err != nil || msg == nil {
				continue
			}
			return fmt.Sprintf("%d %s", p.Number, msg.Headers[header]), true
		}
		return "", false
	})
}

func handleDate(ss *serverSession, args []string) error {
	return ss.replyLine("111 %s", time.Now().UTC().Format("20060102150405"))
}

func handlePost(ss *serverSession, args []string) error {
	if err := requireAuth(ss); err != nil {
		return err
	}
	if !ss.sess.PostingAllowed {
		return ErrPostingNotPermitted
	}
	if err := ss.replyLine("340 Send article to be posted"); err != nil {
		return err
	}

	raw, err := readRawArticle(ss)
	if err != nil {
		return err
	}

	msg, err := parseAndStore(ss, raw)
	if err != nil {
		_ = ss.reply(newError(441, "posting failed: %s", postFailureDetail(err)))
		return nil
	}
	return ss.replyLine("240 article received <%s>", strings.Trim(msg.MessageID, "<>"))
}

// postFailureDetail maps a posting failure to the short reason carried
// on the 441 reply.
func postFailureDetail(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateMessageID):
		return string(article.ReasonDuplicate)
	case errors.Is(err, store.ErrModerationRequired):
		return string(article.ReasonModerationRequired)
	case errors.Is(err, store.ErrUnauthorized):
		return "posting not permitted"
	case errors.Is(err, store.ErrBadNewsgroup):
		return "no such newsgroup"
	default:
		return err.Error()
	}
}

func handleIHave(ss *serverSession, args []string) error {
	if err := requireAuth(ss); err != nil {
		return err
	}
	if len(args) < 1 {
		return ErrSyntax
	}
	msgID := args[0]

	ctx := context.Background()
	_, existing, err := ss.srv.store.GetMessageByID(ctx, ss.sess.Identity, msgID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrArticleNotWanted
	}

	if err := ss.replyLine("335 send it"); err != nil {
		return err
	}
	raw, err := readRawArticle(ss)
	if err != nil {
		return err
	}

	if _, err := parseAndStore(ss, raw); err != nil {
		_ = ss.reply(ErrTransferRejected)
		return nil
	}
	return ss.replyLine("235 article received OK")
}

// readRawArticle reads the dot-stuffed multi-line article body sent after
// a 340/335 continuation, reassembling CRLF-joined raw bytes for the
// article parser. The session is in the Posting state for the duration of
// the read and returns to its prior state after.
func readRawArticle(ss *serverSession) ([]byte, error) {
	prior := ss.sess.State
	ss.sess.State = session.Posting
	lines, err := ss.framer.ReadDotBlock()
	ss.sess.State = prior
	if err != nil {
		return nil, err
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n"), nil
}

// isLoopback reports whether the remote endpoint is a loopback address,
// for the local-authentication-only identity restriction.
func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	return tcp.IP.IsLoopback()
}

func parseAndStore(ss *serverSession, raw []byte) (*store.Message, error) {
	a, err := article.Parse(raw, ss.srv.cfg.PathHost)
	if err != nil {
		return nil, err
	}

	// Record this server in the Path header ahead of any hops the article
	// already carries.
	if host := ss.srv.cfg.PathHost; host != "" {
		path := host
		if a.Path != "" {
			path += "!" + a.Path
		}
		if _, present := a.Headers["Path"]; !present {
			a.HeaderOrder = append(a.HeaderOrder, "Path")
		}
		a.Headers["Path"] = path
		a.Path = path
	}

	msg := &store.Message{
		MessageID:      a.MessageID,
		Date:           a.Date,
		From:           a.From,
		Subject:        a.Subject,
		Newsgroups:     a.Newsgroups,
		Path:           a.Path,
		Headers:        a.Headers,
		HeaderOrder:    a.HeaderOrder,
		RawHeaderBlock: a.RawHeaderBlock,
		Body:           a.Body,
	}

	if ctl, ok := a.Headers["Control"]; ok {
		handled, err := ss.applyControl(ctl)
		if err != nil {
			return nil, err
		}
		if handled {
			return msg, nil
		}
	}

	if _, _, err := ss.srv.store.Post(context.Background(), ss.sess.Identity, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// controlStore is the optional store surface control messages operate
// on; stores that do not implement it simply file control articles like
// any other post.
type controlStore interface {
	CancelMessage(messageID string) error
	CreateCatalog(name, description string, moderated bool) error
	RemoveCatalog(name string) error
}

// applyControl executes a recognized Control header verb, gated by the
// matching identity capability. Unrecognized verbs report handled=false
// and the article is stored normally.
func (ss *serverSession) applyControl(ctl string) (bool, error) {
	fields := strings.Fields(ctl)
	if len(fields) < 2 {
		return false, nil
	}
	cs, ok := ss.srv.store.(controlStore)
	if !ok {
		return false, nil
	}
	ident := ss.sess.Identity

	switch strings.ToLower(fields[0]) {
	case "cancel":
		if !ident.HasCapability(store.CapCancel) {
			return true, store.ErrUnauthorized
		}
		return true, cs.CancelMessage(fields[1])
	case "newgroup":
		if !ident.HasCapability(store.CapCreateCatalog) {
			return true, store.ErrUnauthorized
		}
		moderated := len(fields) > 2 && strings.EqualFold(fields[2], "moderated")
		return true, cs.CreateCatalog(fields[1], "", moderated)
	case "rmgroup":
		if !ident.HasCapability(store.CapDeleteCatalog) {
			return true, store.ErrUnauthorized
		}
		return true, cs.RemoveCatalog(fields[1])
	default:
		return false, nil
	}
}

func handleNewGroups(ss *serverSession, args []string) error {
	if len(args) < 2 {
		return ErrSyntax
	}
	since, err := parseNNTPTimestamp(args[0], args[1])
	if err != nil {
		return ErrSyntax
	}

	ctx := context.Background()
	catalogs, err := ss.srv.store.ListAllCatalogs(ctx, ss.sess.Identity)
	if err != nil {
		return err
	}

	if err := ss.replyLine("231 list of new newsgroups follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		for i < len(catalogs) {
			c := catalogs[i]
			i++
			if c.CreatedAt.After(since) {
				return fmt.Sprintf("%s %d %d n", c.Name, c.High, c.Low), true
			}
		}
		return "", false
	})
}

func handleNewNews(ss *serverSession, args []string) error {
	if len(args) < 3 {
		return ErrSyntax
	}
	wildmatExpr := args[0]
	since, err := parseNNTPTimestamp(args[1], args[2])
	if err != nil {
		return ErrSyntax
	}
	m := wildmat.Compile(wildmatExpr)

	ctx := context.Background()
	catalogs, err := ss.srv.store.ListAllCatalogs(ctx, ss.sess.Identity)
	if err != nil {
		return err
	}

	var ids []string
	seen := make(map[string]bool)
	for _, c := range catalogs {
		if !m.Match(c.Name) {
			continue
		}
		placements, err := ss.srv.store.GetMessages(ctx, ss.sess.Identity, c.Name, c.Low, c.High)
		if err != nil {
			continue
		}
		for _, p := range placements {
			msg, err := ss.srv.store.GetMessage(ctx, p.MessageID)
			if err != nil || msg == nil {
				continue
			}
			if msg.Date.After(since) && !seen[msg.MessageID] {
				seen[msg.MessageID] = true
				ids = append(ids, msg.MessageID)
			}
		}
	}

	if err := ss.replyLine("230 list of new articles follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(ids) {
			return "", false
		}
		id := ids[i]
		i++
		return id, true
	})
}

// parseNNTPTimestamp parses the `yymmdd hhmmss` form shared by
// NEWGROUPS/NEWNEWS, tolerant of a trailing "GMT".
func parseNNTPTimestamp(date, t string) (time.Time, error) {
	t = strings.TrimSuffix(strings.TrimSpace(t), "GMT")
	t = strings.TrimSpace(t)
	combined := date + " " + t
	if len(date) == 6 {
		return time.ParseInLocation("060102 150405", combined, time.UTC)
	}
	return time.ParseInLocation("20060102 150405", combined, time.UTC)
}

func handleHelp(ss *serverSession, args []string) error {
	lines := []string{
		"CAPABILITIES", "MODE READER", "GROUP", "LISTGROUP", "LIST",
		"ARTICLE", "HEAD", "BODY", "STAT", "NEXT", "LAST", "POST", "IHAVE",
		"OVER", "HDR", "DATE", "NEWGROUPS", "NEWNEWS", "AUTHINFO",
		"STARTTLS", "COMPRESS DEFLATE", "QUIT",
	}
	if err := ss.replyLine("100 Help text follows"); err != nil {
		return err
	}
	i := 0
	return ss.framer.WriteDotBlock(func() (string, bool) {
		if i >= len(lines) {
			return "", false
		}
		l := lines[i]
		i++
		return l, true
	})
}
