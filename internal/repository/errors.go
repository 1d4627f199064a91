package repository

import "errors"

// ErrNotFound is returned when a requested row or blob does not exist
var ErrNotFound = errors.New("not found")
