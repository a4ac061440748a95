package article

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = "From: alice@example.com\r\n" +
	"Newsgroups: freenews.misc\r\n" +
	"Subject: hi\r\n" +
	"Message-ID: <a@x.invalid>\r\n" +
	"Date: Wed, 01 Jan 2025 00:00:00 +0000\r\n" +
	"\r\n" +
	"hello\r\n"

func TestParseRequiredHeaders(t *testing.T) {
	a, err := Parse([]byte(sample), "server.invalid")
	require.NoError(t, err)
	require.Equal(t, "<a@x.invalid>", a.MessageID)
	require.Equal(t, "alice@example.com", a.From)
	require.Equal(t, []string{"freenews.misc"}, a.Newsgroups)
}

func TestParseMissingRequiredHeader(t *testing.T) {
	bad := strings.Replace(sample, "From: alice@example.com\r\n", "", 1)
	_, err := Parse([]byte(bad), "server.invalid")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	require.Equal(t, ReasonMissingHeader, pe.Reason)
}

func TestParseGeneratesMessageIDWhenAbsent(t *testing.T) {
	noID := strings.Replace(sample, "Message-ID: <a@x.invalid>\r\n", "", 1)
	a, err := Parse([]byte(noID), "news.example")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(a.MessageID, "@news.example>"))
}

func TestMessageIDGrammar(t *testing.T) {
	accepted := []string{
		"<a@x.invalid>",
		"<a.b.c@news.example.com>",
		"<ABCDEF0123@[192.0.2.1]>",
	}
	for _, id := range accepted {
		require.True(t, messageIDPattern.MatchString(id), "should accept %q", id)
	}

	rejected := []string{
		"a@x.invalid",     // no angle brackets
		"<a@>",            // empty domain
		"<@x.invalid>",    // empty local part
		"<a>b@c.invalid>", // '>' inside local part
		"<a b@c.invalid>", // whitespace
		"<a..b@c>",        // empty dot-atom component
	}
	for _, id := range rejected {
		require.False(t, messageIDPattern.MatchString(id), "should reject %q", id)
	}
}

// A malformed submitted Message-ID is replaced with a generated one
// rather than rejected.
func TestParseReplacesMalformedMessageID(t *testing.T) {
	bad := strings.Replace(sample, "Message-ID: <a@x.invalid>\r\n",
		"Message-ID: not-an-id\r\n", 1)
	a, err := Parse([]byte(bad), "news.example")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(a.MessageID, "@news.example>"))
}

func TestParseRejectsEmptyBody(t *testing.T) {
	empty := strings.Replace(sample, "hello\r\n", "", 1)
	_, err := Parse([]byte(empty), "server.invalid")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	require.Equal(t, ReasonEmptyBodyNotPermitted, pe.Reason)
}

func TestParseFoldedHeader(t *testing.T) {
	folded := "From: alice@example.com\r\n" +
		"Newsgroups: freenews.misc\r\n" +
		"Subject: a subject\r\n continued on next line\r\n" +
		"\r\n" +
		"body\r\n"
	a, err := Parse([]byte(folded), "server.invalid")
	require.NoError(t, err)
	require.Equal(t, "a subject continued on next line", a.Subject)
}

func TestSerializeIdempotent(t *testing.T) {
	a, err := Parse([]byte(sample), "server.invalid")
	require.NoError(t, err)

	out := a.Serialize()
	reparsed, err := Parse(out, "server.invalid")
	require.NoError(t, err)
	require.Equal(t, a.MessageID, reparsed.MessageID)
	require.Equal(t, string(a.Body), string(reparsed.Body))
}
