package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrOutsideVault = errors.New("path escapes vault root")
	ErrNotSynced    = errors.New("subscription not synced")
)
