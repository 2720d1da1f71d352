package queue

import (
	"errors"
	"fmt"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrExceedsMaxMessageSize is returned by Enqueue when the payload is larger
	// than HostConfig.MaxMessageSize. Nothing is written.
	ErrExceedsMaxMessageSize = errors.New("queue: message exceeds max message size")

	// ErrAdvancementRule is returned by CheckProcessedCount when a consumer with
	// pending messages reports zero processed messages.
	ErrAdvancementRule = errors.New("queue: advancement rule violated")

	// ErrUnderflow is matched by every *UnderflowError.
	ErrUnderflow = errors.New("queue: processed count exceeds queue length")

	// ErrInconsistent is returned by CheckConsistency for every broken invariant.
	ErrInconsistent = errors.New("queue: storage inconsistent")
)

// UnderflowError reports a consumer that claims to have processed more
// messages than its queue holds.
type UnderflowError struct {
	Processed uint32
	Length    uint32
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("queue: processed %d messages but queue length is %d", e.Processed, e.Length)
}

// Is lets errors.Is(err, ErrUnderflow) match.
func (e *UnderflowError) Is(target error) bool { return target == ErrUnderflow }
