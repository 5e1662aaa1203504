package database

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateVersion = errors.New("version already cataloged")
)
