package storage

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
)
