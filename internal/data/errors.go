package data

import "errors"

var (
	ErrNotFound        = errors.New("document not found")
	ErrBadCategory     = errors.New("invalid category")
	ErrMissingRelation = errors.New("related document not stored")
)
