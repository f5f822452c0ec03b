package action

import "time"

// Transition is the event emitted on every status change. Delivery to
// sinks is best-effort and never blocks or fails the transition.
type Transition struct {
	Action    Action    `cbor:"action"`
	OldStatus Status    `cbor:"old_status"`
	NewStatus Status    `cbor:"new_status"`
	At        time.Time `cbor:"at"`
}
