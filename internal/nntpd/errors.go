package nntpd

import "fmt"

// ProtocolError is a coded NNTP reply. Handlers return one of these
// sentinel values (or a fresh one built with newError) to signal a
// protocol-level condition; the dispatcher writes Code+Msg as the reply
// line and the session stays alive.
type ProtocolError struct {
	Code int
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Msg)
}

func newError(code int, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrNoSuchGroup          = &ProtocolError{411, "No such newsgroup"}
	ErrNoGroupSelected      = &ProtocolError{412, "No newsgroup selected"}
	ErrNoCurrentArticle     = &ProtocolError{420, "Current article number is invalid"}
	ErrNoNextArticle        = &ProtocolError{421, "No next article in this group"}
	ErrNoPrevArticle        = &ProtocolError{422, "No previous article in this group"}
	ErrInvalidArticleNumber = &ProtocolError{423, "No article with that number"}
	ErrInvalidMessageID     = &ProtocolError{430, "No article with that message-id"}
	ErrPostingNotPermitted  = &ProtocolError{440, "Posting not permitted"}
	ErrPostingFailed        = &ProtocolError{441, "Posting failed"}
	ErrArticleNotWanted     = &ProtocolError{435, "Article not wanted"}
	ErrTransferFailed       = &ProtocolError{436, "Transfer failed, try again later"}
	ErrTransferRejected     = &ProtocolError{437, "Transfer rejected, do not retry"}
	ErrAuthRequired         = &ProtocolError{480, "Authentication required"}
	ErrEncryptionRequired   = &ProtocolError{483, "Secure connection required"}
	ErrAuthRejected         = &ProtocolError{481, "Authentication rejected"}
	ErrAuthSequence         = &ProtocolError{482, "Authentication commands issued out of sequence"}
	ErrUnknownCommand       = &ProtocolError{500, "Unknown command"}
	ErrSyntax               = &ProtocolError{501, "Syntax error"}
	ErrPermissionDenied     = &ProtocolError{502, "Permission denied"}
	ErrServiceUnavailable   = &ProtocolError{403, "Service unavailable, backend error"}
	ErrTLSNotAllowed        = &ProtocolError{580, "STARTTLS not allowed"}
)
