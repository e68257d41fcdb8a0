package domain

// FusionState is the lifecycle of one retrieval fan-out/fan-in cycle.
type FusionState string

const (
	FusionPreparing  FusionState = "PREPARING"
	FusionDispatched FusionState = "DISPATCHED"
	FusionFusing     FusionState = "FUSING"
	FusionDone       FusionState = "DONE"
	FusionFailed     FusionState = "FAILED"
)

func (s FusionState) Terminal() bool {
	return s == FusionDone || s == FusionFailed
}

// Progress is an interim notification emitted while a fusion step runs.
type Progress struct {
	State        FusionState  `json:"state"`
	MessageState MessageState `json:"message_state"`
	Message      string       `json:"message"`
}
