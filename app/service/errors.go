package service

import "errors"

var (
	ErrDuplicateRequestID = errors.New("duplicate request_id")
	ErrFlushInProgress    = errors.New("spool flush already in progress")
)
