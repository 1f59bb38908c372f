// Package cron provides the durable job store and the tick scheduler that
// turns due jobs into synthetic system-channel turns for the agent loop.
package cron

// ScheduleKind discriminates the three schedule shapes.
type ScheduleKind string

const (
	// KindAt fires once at an absolute timestamp.
	KindAt ScheduleKind = "at"
	// KindEvery fires on a fixed interval from the last run (or creation).
	KindEvery ScheduleKind = "every"
	// KindCron fires per a five-field cron expression, evaluated in UTC.
	KindCron ScheduleKind = "cron"
)

// RunStatus is the outcome of a job's most recent run.
type RunStatus string

const (
	StatusOk      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusSkipped RunStatus = "skipped"
)

// Schedule holds exactly one of AtMS, EveryMS or Expr, matching Kind.
type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	AtMS    int64        `json:"at_ms,omitempty"`
	EveryMS int64        `json:"every_ms,omitempty"`
	Expr    string       `json:"expr,omitempty"`
}

// Payload describes what a job does when it fires.
type Payload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
	Command string `json:"command,omitempty"`
}

// RunState records the outcome of the most recent run.
type RunState struct {
	LastRunAtMS int64     `json:"last_run_at_ms,omitempty"`
	LastStatus  RunStatus `json:"last_status,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastOutput  string    `json:"last_output,omitempty"`
}

// Job is one scheduled job. Owner is the "channel:chat_id" session key of the
// conversation that created it.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          RunState `json:"state"`
	CreatedAtMS    int64    `json:"created_at_ms"`
	UpdatedAtMS    int64    `json:"updated_at_ms"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
	Owner          string   `json:"owner,omitempty"`
}
