package tg

import "errors"

var (
	// ErrNotOpen is returned when a tile source is used before a successful open.
	ErrNotOpen = errors.New("tile source not open")

	// ErrUnsupportedFormat is returned when no reader handles a file.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)
