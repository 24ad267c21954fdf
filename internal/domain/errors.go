package domain

import "errors"

// ErrSessionNotFound is returned by session stores for unknown or expired ids.
var ErrSessionNotFound = errors.New("session not found")
