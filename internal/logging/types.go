package logging

import "time"

// #region sample-entry
// SampleEntry is one logged state of the chain.
type SampleEntry struct {
	RunID        string
	Sample       int64
	LogPosterior float64
	Values       map[string][]float64
	Operator     string // operator of the step that produced the state
	Decision     string // "commit" | "reject"
	Reason       string
	CreatedAt    time.Time
}

// #endregion sample-entry

// #region sample-logger
// SampleLogger receives the chain state at every logging interval.
type SampleLogger interface {
	LogSample(entry SampleEntry) error
}

// #endregion sample-logger
