package data

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input validation failure. Callers can
// test for the whole family with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("validation failed")

var (
	ErrEmptyContent        = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrInvalidParticipants = fmt.Errorf("%w: a direct conversation needs two distinct users", ErrValidation)
	ErrInvalidEmoji        = fmt.Errorf("%w: invalid emoji", ErrValidation)
	ErrContentTooLong      = fmt.Errorf("%w: message content is too long", ErrValidation)
)

var (
	ErrNotParticipant       = errors.New("not a participant")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationArchived = errors.New("conversation is archived")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidReply         = errors.New("reply target is not in this conversation")
	ErrInvalidMessage       = errors.New("message does not belong to this conversation")

	// ErrDuplicate is returned by repositories when a uniqueness constraint
	// (direct pair, community ref, message seq) is violated.
	ErrDuplicate = errors.New("duplicate record")
)
