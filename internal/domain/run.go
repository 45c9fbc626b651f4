package domain

import (
	"context"

	"github.com/google/uuid"
)

// RunID identifies one live execution of a chat turn.
type RunID = uuid.UUID

// ActiveRun tracks a live chat turn so chat.abort can cancel it. Created
// per chat.send, removed on the turn's terminal event (final/error/cancel).
type ActiveRun struct {
	RunID      RunID
	SessionKey SessionKey
	Cancel     context.CancelFunc
}
