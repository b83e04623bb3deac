package rag

import "errors"

var (
	ErrEmptyText           = errors.New("rag: empty text")
	ErrInvalidChunkOptions = errors.New("rag: invalid chunk options")
	ErrIndexCreate         = errors.New("rag: index create failed")
	ErrSourceUnreadable    = errors.New("rag: source document unreadable")
	ErrRateLimited         = errors.New("rag: rate limited")
	ErrTransient           = errors.New("rag: transient provider error")
	ErrNotFound            = errors.New("rag: not found")
	ErrPathNotAllowed      = errors.New("rag: path outside the document roots")
)

// IsRetryable reports whether a provider error is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
