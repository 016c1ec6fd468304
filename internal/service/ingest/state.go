package ingest

// State is the phase a worker is in for its current job.
type State string

const (
	StateIdle       State = "idle"
	StateClaimed    State = "claimed"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether the job has left the worker.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
