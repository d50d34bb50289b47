package stream

import "errors"

var (
	ErrForbidden     = errors.New("source is private or forbidden")
	ErrNotFound      = errors.New("source not found (404)")
	ErrNotMedia      = errors.New("expected a media playlist, got a master playlist")
	ErrNoInitSection = errors.New("playlist has no EXT-X-MAP init section")
)
