package identity

import "errors"

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrNameTaken         = errors.New("screen name already in use")
	ErrNameInvalid       = errors.New("invalid screen name")
	ErrAnonymousDisabled = errors.New("anonymous mode disabled")
)
