package events

import "time"

// ExecuteStart is emitted when the device begins executing a tape.
type ExecuteStart struct {
	Backend      string
	Shots        int
	Operations   int
	Measurements int
}

// ExecuteFinish is emitted when tape execution completes.
type ExecuteFinish struct {
	Backend  string
	Err      error
	Duration time.Duration
}

// GradientStart is emitted when a parameter-shift gradient computation begins.
type GradientStart struct {
	Backend    string
	Parameters int
	Circuits   int
}

// GradientFinish is emitted when a gradient computation completes.
type GradientFinish struct {
	Backend  string
	Failed   int
	Err      error
	Duration time.Duration
}
