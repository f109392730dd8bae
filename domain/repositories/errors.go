package repositories

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrClaimLost means the photo is no longer processing under the caller's claim.
	ErrClaimLost = errors.New("photo claim lost")
	// ErrDuplicateFileName means another photo already owns the routing name.
	ErrDuplicateFileName = errors.New("file name already taken")
	ErrEmptyFilter       = errors.New("filter matches every photo, refusing")
)
