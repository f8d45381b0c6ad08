package transmission

import "errors"

var (
	ErrAlreadyRecording = errors.New("transmission already in progress")
	ErrNotRecording     = errors.New("no transmission in progress")
)
