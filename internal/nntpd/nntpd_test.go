package nntpd

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nntpd/nntpd/internal/session"
	"github.com/nntpd/nntpd/internal/store"
	"github.com/nntpd/nntpd/internal/store/memstore"
)

// testSession wires a serverSession to one end of a net.Pipe and runs it
// in the background, returning the other end for the test to drive.
func testSession(t *testing.T, backing *memstore.Store, cfg Config) (net.Conn, *bufio.Reader) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	srv := NewServer(cfg, backing, zap.NewNop().Sugar())
	sess := session.New("sess-1", server.RemoteAddr(), cfg.PostingAllowed)
	ss := newServerSession(srv, sess, server)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})
	go func() {
		ss.run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		// Cleanups run last-registered first, so close both ends and cancel
		// here before waiting; otherwise the session is still blocked
		// reading from an open pipe.
		cancel()
		client.Close()
		server.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not terminate after cleanup")
		}
	})

	return client, bufio.NewReader(client)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func readDotBlock(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line := readLine(t, r)
		if line == "." {
			return lines
		}
		lines = append(lines, line)
	}
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func TestGreetingCapabilitiesAndQuit(t *testing.T) {
	backing := memstore.New()
	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)

	greeting := readLine(t, r)
	require.Contains(t, greeting, "200")

	sendLine(t, client, "CAPABILITIES")
	require.Contains(t, readLine(t, r), "101")
	body := readDotBlock(t, r)
	require.Contains(t, body, "READER")
	require.Contains(t, body, "POST")

	sendLine(t, client, "QUIT")
	require.Contains(t, readLine(t, r), "205")
}

func TestGroupSelectAndArticleFetch(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("freenews.misc", "test group", false))

	cfg := DefaultConfig()
	cfg.PathHost = "news.example"
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	ctx := context.Background()
	_, _, err := backing.Post(ctx, nil, &store.Message{
		MessageID:      "<art1@news.example>",
		From:           "alice@example.com",
		Subject:        "hi",
		Newsgroups:     []string{"freenews.misc"},
		Headers:        map[string]string{"From": "alice@example.com", "Newsgroups": "freenews.misc", "Subject": "hi"},
		HeaderOrder:    []string{"From", "Newsgroups", "Subject"},
		RawHeaderBlock: "From: alice@example.com\nNewsgroups: freenews.misc\nSubject: hi\n",
		Body:           []byte("hello world\n"),
	})
	require.NoError(t, err)

	sendLine(t, client, "GROUP freenews.misc")
	group := readLine(t, r)
	require.Contains(t, group, "211")
	require.Contains(t, group, "freenews.misc")

	sendLine(t, client, "ARTICLE 1")
	resp := readLine(t, r)
	require.Contains(t, resp, "220")
	require.Contains(t, resp, "<art1@news.example>")
	block := readDotBlock(t, r)
	require.Contains(t, strings.Join(block, "\n"), "hello world")
}

func TestPostWithDotStuffing(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("freenews.misc", "test group", false))

	cfg := DefaultConfig()
	cfg.PathHost = "news.example"
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "POST")
	require.Contains(t, readLine(t, r), "340")

	sendLine(t, client, "From: alice@example.com")
	sendLine(t, client, "Newsgroups: freenews.misc")
	sendLine(t, client, "Subject: hi there")
	sendLine(t, client, "")
	sendLine(t, client, "..this line starts with two dots on the wire")
	sendLine(t, client, ".")

	resp := readLine(t, r)
	require.Contains(t, resp, "240")

	placements, err := backing.GetMessages(context.Background(), nil, "freenews.misc", 1, 0)
	require.NoError(t, err)
	require.Len(t, placements, 1)

	_, msg, err := backing.GetMessageByID(context.Background(), nil, placements[0].MessageID)
	require.NoError(t, err)
	require.Contains(t, string(msg.Body), ".this line starts with two dots on the wire")
}

func TestIHaveRejectsDuplicate(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("freenews.misc", "test group", false))

	cfg := DefaultConfig()
	cfg.PathHost = "news.example"
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "IHAVE <dup@news.example>")
	require.Contains(t, readLine(t, r), "335")
	sendLine(t, client, "From: alice@example.com")
	sendLine(t, client, "Newsgroups: freenews.misc")
	sendLine(t, client, "Subject: hi")
	sendLine(t, client, "Message-ID: <dup@news.example>")
	sendLine(t, client, "")
	sendLine(t, client, "body")
	sendLine(t, client, ".")
	require.Contains(t, readLine(t, r), "235")

	sendLine(t, client, "IHAVE <dup@news.example>")
	require.Contains(t, readLine(t, r), "435")
}

func TestAuthInfoSequence(t *testing.T) {
	backing := memstore.New()
	_, err := backing.CreateIdentity("alice", "s3cret", nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	// PASS before USER is out of sequence.
	sendLine(t, client, "AUTHINFO PASS s3cret")
	require.Contains(t, readLine(t, r), "482")

	sendLine(t, client, "AUTHINFO USER alice")
	require.Contains(t, readLine(t, r), "381")

	sendLine(t, client, "AUTHINFO PASS wrong")
	require.Contains(t, readLine(t, r), "481")

	sendLine(t, client, "AUTHINFO USER alice")
	require.Contains(t, readLine(t, r), "381")
	sendLine(t, client, "AUTHINFO PASS s3cret")
	require.Contains(t, readLine(t, r), "281")
}

func TestListActiveWithWildmat(t *testing.T) {
	backing := memstore.New()
	for _, name := range []string{"comp.lang.rs", "comp.lang.go", "rec.food"} {
		require.NoError(t, backing.CreateCatalog(name, "", false))
	}

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "LIST ACTIVE comp.*,!*.go")
	require.Contains(t, readLine(t, r), "215")
	body := readDotBlock(t, r)
	require.Len(t, body, 1)
	require.Contains(t, body[0], "comp.lang.rs")
}

func TestListRejectsUnknownKeyword(t *testing.T) {
	backing := memstore.New()
	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "LIST BOGUS")
	require.Contains(t, readLine(t, r), "501")
}

func TestNextLastCursorTraversal(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("g", "", false))
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, _, err := backing.Post(ctx, nil, &store.Message{
			MessageID:  mid(i),
			Newsgroups: []string{"g"},
			Headers:    map[string]string{},
		})
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "GROUP g")
	require.Contains(t, readLine(t, r), "211")

	// Cursor starts at the low watermark; NEXT walks upward.
	sendLine(t, client, "NEXT")
	require.Contains(t, readLine(t, r), "223 2")
	sendLine(t, client, "NEXT")
	require.Contains(t, readLine(t, r), "223 3")
	sendLine(t, client, "NEXT")
	require.Contains(t, readLine(t, r), "421")

	sendLine(t, client, "LAST")
	require.Contains(t, readLine(t, r), "223 2")
	sendLine(t, client, "LAST")
	require.Contains(t, readLine(t, r), "223 1")
	sendLine(t, client, "LAST")
	require.Contains(t, readLine(t, r), "422")
}

func mid(i int) string {
	return "<" + strings.Repeat("a", i) + "@x.invalid>"
}

func TestUnknownVerbAndMissingGroup(t *testing.T) {
	backing := memstore.New()
	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "FROBNICATE")
	require.Contains(t, readLine(t, r), "500")

	sendLine(t, client, "GROUP no.such.group")
	require.Contains(t, readLine(t, r), "411")

	sendLine(t, client, "NEXT")
	require.Contains(t, readLine(t, r), "412")

	sendLine(t, client, "MODE")
	require.Contains(t, readLine(t, r), "501")

	sendLine(t, client, "DATE")
	require.Contains(t, readLine(t, r), "111")
}

func TestHdrByMessageID(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("g", "", false))
	ctx := context.Background()
	_, _, err := backing.Post(ctx, nil, &store.Message{
		MessageID:  "<a@x.invalid>",
		Subject:    "hi",
		Newsgroups: []string{"g"},
		Headers:    map[string]string{"Subject": "hi"},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "HDR Subject <a@x.invalid>")
	require.Contains(t, readLine(t, r), "225")
	body := readDotBlock(t, r)
	require.Equal(t, []string{"0 hi"}, body)

	sendLine(t, client, "HDR Subject <missing@x.invalid>")
	require.Contains(t, readLine(t, r), "430")
}

func TestPostToModeratedGroupReturns441(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("mod.g", "", true))

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "POST")
	require.Contains(t, readLine(t, r), "340")
	sendLine(t, client, "From: alice@example.com")
	sendLine(t, client, "Newsgroups: mod.g")
	sendLine(t, client, "Subject: hi")
	sendLine(t, client, "")
	sendLine(t, client, "body")
	sendLine(t, client, ".")

	resp := readLine(t, r)
	require.Contains(t, resp, "441")
	require.Contains(t, resp, "moderation-required")
}

func TestCancelControlMessage(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("g", "", false))
	_, err := backing.CreateIdentity("mod", "pw", map[store.Capability]bool{store.CapCancel: true})
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = backing.Post(ctx, nil, &store.Message{
		MessageID:  "<victim@x.invalid>",
		Newsgroups: []string{"g"},
		Headers:    map[string]string{},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "AUTHINFO USER mod")
	readLine(t, r)
	sendLine(t, client, "AUTHINFO PASS pw")
	require.Contains(t, readLine(t, r), "281")

	sendLine(t, client, "POST")
	require.Contains(t, readLine(t, r), "340")
	sendLine(t, client, "From: mod@example.com")
	sendLine(t, client, "Newsgroups: g")
	sendLine(t, client, "Subject: cancel <victim@x.invalid>")
	sendLine(t, client, "Control: cancel <victim@x.invalid>")
	sendLine(t, client, "")
	sendLine(t, client, "cancelled by moderator")
	sendLine(t, client, ".")
	require.Contains(t, readLine(t, r), "240")

	// The cancelled article is gone from the visible group.
	sendLine(t, client, "GROUP g")
	require.Contains(t, readLine(t, r), "211 0")
	sendLine(t, client, "ARTICLE 1")
	require.Contains(t, readLine(t, r), "423")
}

func TestControlMessageRequiresCapability(t *testing.T) {
	backing := memstore.New()
	require.NoError(t, backing.CreateCatalog("g", "", false))

	cfg := DefaultConfig()
	client, r := testSession(t, backing, cfg)
	readLine(t, r) // greeting

	sendLine(t, client, "POST")
	require.Contains(t, readLine(t, r), "340")
	sendLine(t, client, "From: nobody@example.com")
	sendLine(t, client, "Newsgroups: g")
	sendLine(t, client, "Subject: cancel <x@x.invalid>")
	sendLine(t, client, "Control: cancel <x@x.invalid>")
	sendLine(t, client, "")
	sendLine(t, client, "no rights")
	sendLine(t, client, ".")

	resp := readLine(t, r)
	require.Contains(t, resp, "441")
	require.Contains(t, resp, "posting not permitted")
}
