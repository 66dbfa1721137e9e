package sideline

import "github.com/google/uuid"

// SidelineRequestID is the opaque token naming one sideline request. A
// bounded virtual consumer carries the id of the request it replays so
// the stored request entries can be cleared when the replay completes.
type SidelineRequestID string

// NewSidelineRequestID returns a fresh unique request id.
func NewSidelineRequestID() SidelineRequestID {
	return SidelineRequestID(uuid.NewString())
}

// SidelineRequest pairs a request id with the filter step that sidelined
// the traffic. The trigger subsystem creates one when sidelining starts
// and hands the step to the firehose's filter chain; resuming removes the
// step and spins up a bounded consumer under the same id.
type SidelineRequest struct {
	ID   SidelineRequestID
	Step FilterStep
}

// NewSidelineRequest returns a request with a fresh id wrapping the step.
func NewSidelineRequest(step FilterStep) SidelineRequest {
	return SidelineRequest{ID: NewSidelineRequestID(), Step: step}
}
