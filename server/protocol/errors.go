package protocol

import "errors"

// errors for parsing, every one of them ends up as a 400 response
var (
	ErrBadRequest       = errors.New("protocol: bad request")
	ErrMethodNotAllowed = errors.New("protocol: method not allowed")
	ErrBodyTooLarge     = errors.New("protocol: body too large")
	ErrLineTooLong      = errors.New("protocol: line too long")
)
