// Package article implements the NNTP article parser: a pure, I/O-free
// transform from a raw header+body block into a structured article, with
// header folding, required-header validation, Message-ID grammar
// checking/substitution, and Date backfill.
package article

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Reason enumerates the fixed set of posting-parse failure reasons used
// for the 441 response.
type Reason string

const (
	ReasonMissingHeader        Reason = "missing-header"
	ReasonBadMessageID         Reason = "bad-message-id"
	ReasonEmptyBodyNotPermitted Reason = "empty-body-not-permitted"
	ReasonModerationRequired   Reason = "moderation-required"
	ReasonDuplicate            Reason = "duplicate"
)

// ParseError carries a fixed Reason plus a short human-readable detail.
type ParseError struct {
	Reason Reason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Article is the parsed, normalized form of a posted message.
type Article struct {
	MessageID  string
	Date       time.Time
	From       string
	Subject    string
	Newsgroups []string
	Path       string

	// Headers holds the value of every header present, keyed by canonical
	// (title-cased, hyphen-preserving) header name.
	// Values preserve folded continuation lines joined onto one logical
	// line with a single separating space.
	Headers map[string]string

	// HeaderOrder preserves the order headers appeared in the original
	// block, so re-serialization is stable (testable property 3).
	HeaderOrder []string

	// RawHeaderBlock is the header block as submitted, before
	// Message-ID/Date rewrite, with CRLF line endings converted to LF.
	// Body is normalized the same way; neither keeps the original CRLFs.
	RawHeaderBlock string

	Body []byte
}

var requiredHeaders = []string{"From", "Newsgroups", "Subject"}

// messageIDPattern implements the RFC 5536 §3.1.3 message-id grammar:
// <dot-atom-text "@" (dot-atom-text | no-fold-literal)>.
const atext = "[A-Za-z0-9!#$%&'*+\\-/=?^_`{|}~]"

var messageIDPattern = regexp.MustCompile(
	`^<` + atext + `+(?:\.` + atext + `+)*@(?:` + atext + `+(?:\.` + atext + `+)*|\[[!-=?-Z^-~]*\])>$`)

// mailboxPattern is a simplified RFC 5322 mailbox check: either a single
// bare `local@domain`, or any text ending in `<local@domain>` (such as
// `"Display Name" <local@domain>`). A comma-separated list passes only
// when its last entry uses the angle-bracket form; a list of bare
// addresses is rejected.
var mailboxPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$|^.+<[^@\s]+@[^@\s]+>$`)

const dateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Parse validates and normalizes a raw posted block. serverHost names
// the host used in generated Message-IDs (`<HEX32@serverHost>`).
func Parse(raw []byte, serverHost string) (*Article, error) {
	headerBlock, body, err := splitHeaderBody(raw)
	if err != nil {
		return nil, err
	}

	headers, order, err := foldHeaders(headerBlock)
	if err != nil {
		return nil, err
	}

	for _, key := range requiredHeaders {
		if _, ok := headers[key]; !ok {
			return nil, &ParseError{Reason: ReasonMissingHeader, Detail: key}
		}
	}

	if strings.TrimSpace(string(body)) == "" {
		return nil, &ParseError{Reason: ReasonEmptyBodyNotPermitted, Detail: "article body is empty"}
	}

	from := headers["From"]
	if !mailboxPattern.MatchString(strings.TrimSpace(from)) {
		return nil, &ParseError{Reason: ReasonMissingHeader, Detail: "From: not a valid mailbox"}
	}

	msgID, ok := headers["Message-Id"]
	if !ok || !messageIDPattern.MatchString(msgID) {
		msgID, err = generateMessageID(serverHost)
		if err != nil {
			return nil, err
		}
		headers["Message-Id"] = msgID
		if _, present := indexOf(order, "Message-Id"); !present {
			order = append(order, "Message-Id")
		}
	}

	var date time.Time
	if raw, ok := headers["Date"]; ok {
		date, err = time.Parse(dateLayout, raw)
		if err != nil {
			// Fall back to RFC1123Z parsing for leniency with real clients.
			date, err = time.Parse(time.RFC1123Z, raw)
		}
	}
	if err != nil || date.IsZero() {
		date = time.Now().UTC()
		headers["Date"] = date.Format(dateLayout)
		if _, present := indexOf(order, "Date"); !present {
			order = append(order, "Date")
		}
	}

	groups := splitNewsgroups(headers["Newsgroups"])

	a := &Article{
		MessageID:      msgID,
		Date:           date,
		From:           from,
		Subject:        headers["Subject"],
		Newsgroups:     groups,
		Path:           headers["Path"],
		Headers:        headers,
		HeaderOrder:    order,
		RawHeaderBlock: string(headerBlock),
		Body:           body,
	}
	return a, nil
}

func indexOf(order []string, key string) (int, bool) {
	for i, k := range order {
		if k == key {
			return i, true
		}
	}
	return -1, false
}

func splitNewsgroups(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitHeaderBody finds the first blank line (CRLF CRLF, tolerating bare
// LF) separating headers from the body.
func splitHeaderBody(raw []byte) (header, body []byte, err error) {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")
	idx := strings.Index(normalized, "\n\n")
	if idx == -1 {
		return nil, nil, &ParseError{Reason: ReasonMissingHeader, Detail: "no header/body separator found"}
	}
	return []byte(normalized[:idx]), []byte(normalized[idx+2:]), nil
}

// foldHeaders splits headerBlock into lines, joins folded continuations
// (a line beginning with SP/HTAB is appended to the previous header with
// a single separating space), and validates `key: value` syntax.
func foldHeaders(headerBlock []byte) (map[string]string, []string, error) {
	lines := strings.Split(string(headerBlock), "\n")
	headers := make(map[string]string)
	var order []string
	var lastKey string

	for _, line := range lines {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			headers[lastKey] = headers[lastKey] + " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, nil, &ParseError{Reason: ReasonMissingHeader, Detail: "malformed header line: " + line}
		}
		key := CanonicalHeaderKey(strings.TrimSpace(line[:colon]))
		if !isValidHeaderKey(key) {
			return nil, nil, &ParseError{Reason: ReasonMissingHeader, Detail: "invalid header key: " + key}
		}
		value := strings.TrimSpace(line[colon+1:])
		if _, exists := headers[key]; !exists {
			order = append(order, key)
		}
		headers[key] = value
		lastKey = key
	}
	return headers, order, nil
}

func isValidHeaderKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r <= ' ' || r == ':' || r > '~' {
			return false
		}
	}
	return true
}

// CanonicalHeaderKey title-cases a header key on hyphen boundaries
// (From, Message-Id, Content-Type), matching net/textproto's convention
// so values round-trip the same way whichever path produced them.
func CanonicalHeaderKey(key string) string {
	parts := strings.Split(strings.ToLower(key), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

func generateMessageID(serverHost string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	if serverHost == "" {
		serverHost = "server.invalid"
	}
	return fmt.Sprintf("<%s@%s>", strings.ToUpper(hex.EncodeToString(buf)), serverHost), nil
}

// Serialize re-renders the article's headers (in HeaderOrder) followed by
// a blank line and the body,
// for idempotence checks and for storage of the final, rewritten form.
func (a *Article) Serialize() []byte {
	var b strings.Builder
	for _, key := range a.HeaderOrder {
		fmt.Fprintf(&b, "%s: %s\r\n", key, a.Headers[key])
	}
	b.WriteString("\r\n")
	b.Write(a.Body)
	return []byte(b.String())
}
