package v1

import "errors"

var (
	ErrRefCtx      = errors.New("task reference missing in context")
	ErrDesiredCtx  = errors.New("desired state missing in context")
	ErrBadID       = errors.New("id must be a UUID")
	ErrBadDesired  = errors.New("desired must be idle or downloading")
	ErrBadDuration = errors.New("invalid duration")
	ErrContentType = errors.New("Content-Type must be application/json")
)
