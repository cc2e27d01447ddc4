package commit

import "fmt"

// Error codes surfaced to API consumers.
const (
	CodeNoCtx             = "NO_CTX"
	CodeBadArgs           = "BAD_ARGS"
	CodeBadEpisode        = "BAD_EPISODE"
	CodeNoUID             = "NO_UID"
	CodeAnimeNotFound     = "ANIME_NOT_FOUND"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeNotNewestForAnime = "NOT_NEWEST_FOR_ANIME"
	CodeStateMismatch     = "STATE_MISMATCH"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Error is the typed failure of a commit or undo.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("commit: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("commit: %s", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the commit error code, or INTERNAL_ERROR for
// anything else.
func CodeOf(err error) string {
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	return CodeInternalError
}
