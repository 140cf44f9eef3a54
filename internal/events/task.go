package events

import "time"

// TaskSubmit is emitted before a circuit is submitted to the backend.
type TaskSubmit struct {
	Backend string
	Index   int
	Shots   int
}

// TaskSubmitted is emitted once the backend has issued a task ID.
type TaskSubmitted struct {
	Backend string
	Index   int
	TaskID  string
}

// TaskFinish is emitted when a task reaches a terminal state or times out.
type TaskFinish struct {
	Backend  string
	Index    int
	TaskID   string
	Status   string
	Err      error
	Duration time.Duration
}
