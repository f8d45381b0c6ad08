package channel

import (
	"errors"
	"fmt"
)

var ErrNotAMember = errors.New("not a member of channel")

// BusyError is returned by TrySetSpeaker when lockout is enabled and
// another connection already holds the slot.
type BusyError struct {
	SpeakerName string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("channel busy: %s is speaking", e.SpeakerName)
}
