package protocol

import "time"

// SynthesisEvent tracks the lifecycle of one queued synthesis job.
type SynthesisEvent struct {
	JobID     string    `json:"job_id"`
	Voice     string    `json:"voice"`
	Chars     int       `json:"chars"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceChange reports the pipeline retargeting to a new broadcast source.
type SourceChange struct {
	Kind      string    `json:"kind"` // background, speech
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenerEvent reports a stream client attaching or detaching.
type ListenerEvent struct {
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Joined     bool      `json:"joined"`
	Listeners  int       `json:"listeners"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSynthesisQueued = "station.synthesis.queued"
	SubjectSynthesisDone   = "station.synthesis.done"
	SubjectSynthesisFailed = "station.synthesis.failed"
	SubjectSourceChanged   = "station.source.changed"
	SubjectListener        = "station.listener"

	// SubjectStationAll matches every station event for firehose consumers.
	SubjectStationAll = "station.>"
)
