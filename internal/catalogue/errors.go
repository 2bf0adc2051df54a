package catalogue

import "errors"

var (
	// ErrRead indicates the catalogue document could not be read.
	ErrRead = errors.New("catalogue unreadable")
	// ErrParse indicates the catalogue document is malformed or has the wrong shape.
	ErrParse = errors.New("catalogue malformed")
	// ErrWrite indicates the catalogue document could not be written back.
	ErrWrite = errors.New("catalogue unwritable")
	// ErrLocked indicates another run holds the catalogue lock.
	ErrLocked = errors.New("catalogue locked by another run")
)
